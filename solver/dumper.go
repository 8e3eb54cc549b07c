package solver

import (
	"bufio"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ScottSallinen/gdmm/utils"
)

// SolutionFile names the dump of an instance's decoding after a sweep.
func SolutionFile(dir string, instance int, iter int) string {
	return filepath.Join(dir, "GDMM."+strconv.Itoa(instance)+".sol"+strconv.Itoa(iter))
}

// NewSolutionDumper returns a hook that writes every sweep's decoding to its own file in dir:
// the node count on the first line, then the labels separated by spaces.
// Write failures are logged and do not stop the solver.
func NewSolutionDumper(dir string) SolutionHook {
	return func(instance int, iter int, labels []int) {
		path := SolutionFile(dir, instance, iter)
		file, err := utils.CreateFile(path)
		if err != nil {
			log.Warn().Err(err).Msg("Solution dump skipped.")
			return
		}
		defer file.Close()
		w := bufio.NewWriter(file)
		w.WriteString(strconv.Itoa(len(labels)) + "\n")
		for i, l := range labels {
			if i > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.Itoa(l))
		}
		w.WriteByte('\n')
		if err := w.Flush(); err != nil {
			log.Warn().Err(err).Msg("Solution dump failed: " + path)
		}
	}
}
