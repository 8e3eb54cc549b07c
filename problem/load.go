package problem

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ScottSallinen/gdmm/utils"
)

// Load reads a problem of the given type. model is only used by chain problems.
func Load(typ Type, dataPath string, modelPath string) (*Problem, error) {
	prob := &Problem{Name: filepath.Base(dataPath), Type: typ}

	data, err := utils.OpenFile(dataPath)
	if err != nil {
		return nil, err
	}
	defer data.Close()

	switch typ {
	case Chain:
		if modelPath == "" {
			return nil, errors.New("chain problems need a model file")
		}
		mf, err := utils.OpenFile(modelPath)
		if err != nil {
			return nil, err
		}
		defer mf.Close()
		model, err := ReadChainModel(mf)
		if err != nil {
			return nil, errors.WithMessage(err, modelPath)
		}
		log.Debug().Msg("Chain model: " + utils.V(model.K()) + " labels, " + utils.V(len(model.W)) + " features")
		if prob.Data, err = ReadChain(data, model); err != nil {
			return nil, errors.WithMessage(err, dataPath)
		}
	case Network:
		if prob.Data, err = ReadNetwork(data); err != nil {
			return nil, errors.WithMessage(err, dataPath)
		}
	case UAI, LOGUAI:
		read := ReadUAI
		if typ == LOGUAI {
			read = ReadLOGUAI
		}
		ins, err := read(data)
		if err != nil {
			return nil, errors.WithMessage(err, dataPath)
		}
		prob.Data = []*Instance{ins}
	default:
		return nil, errors.Errorf("unknown problem type %d", typ)
	}

	nodes, edges := 0, 0
	for _, ins := range prob.Data {
		nodes += ins.T
		edges += len(ins.Edges)
	}
	log.Info().Msg("Read " + prob.Name + " (" + typ.String() + "): " + utils.V(len(prob.Data)) + " instances, " +
		utils.V(nodes) + " nodes, " + utils.V(edges) + " edges")
	return prob, nil
}
