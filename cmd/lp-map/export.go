package main

import (
	"bufio"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ScottSallinen/gdmm/problem"
	"github.com/ScottSallinen/gdmm/utils"
)

// exportLOGUAI writes each instance of prob to its own loguai file. A single instance goes to path itself;
// otherwise instance i goes to path.i.
func exportLOGUAI(prob *problem.Problem, path string) error {
	for i, ins := range prob.Data {
		name := path
		if len(prob.Data) > 1 {
			name = path + "." + strconv.Itoa(i)
		}
		file, err := utils.CreateFile(name)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(file)
		err = problem.WriteLOGUAI(w, ins)
		if err == nil {
			err = w.Flush()
		}
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.WithMessage(err, name)
		}
	}
	log.Info().Msg("Exported " + utils.V(len(prob.Data)) + " instances to " + path)
	return nil
}

func (c *CLI) newExportCommand() *cobra.Command {
	var problemType, modelPath string

	cmd := &cobra.Command{
		Use:     "export [datafile] [output]",
		Short:   "Convert a problem into loguai files",
		Example: `  lp-map export -p network match.txt match.loguai`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := problem.ParseType(problemType)
			if err != nil {
				return err
			}
			prob, err := problem.Load(typ, args[0], modelPath)
			if err != nil {
				return err
			}
			return exportLOGUAI(prob, args[1])
		},
	}

	cmd.Flags().StringVarP(&problemType, "problem", "p", problem.Network.String(), "Problem type: chain, network, uai, loguai.")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model file, for chain problems.")
	return cmd
}
