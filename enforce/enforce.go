package enforce

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

func init() {
	checkCompiler()
}

// ENFORCE halts the program when an invariant does not hold.
// A bool query must be true, an error query must be nil, and a string query always fails.
func ENFORCE(query interface{}, args ...interface{}) {
	switch t := query.(type) {
	case bool:
		if !t {
			log.Error().Msg("ENFORCE: " + fmt.Sprint(args...))
			panic("enforce: " + fmt.Sprint(args...))
		}
	case error:
		if t != nil {
			log.Error().Err(t).Msg("ENFORCE: " + fmt.Sprint(args...))
			panic(t)
		}
	case string:
		log.Error().Msg("ENFORCE: " + t + " " + fmt.Sprint(args...))
		panic(t)
	case nil:
		// enforce.ENFORCE(err) with a nil error passes.
	default:
		log.Error().Msg("ENFORCE: incorrect usage of enforce with type: " + fmt.Sprintf("%T", t))
		panic(t)
	}
}

// checkCompiler enforces a 64bit machine; flat pair indices assume sizeof(int) == 8.
func checkCompiler() {
	myint := int(math.MaxInt64) // Shouldn't compile on a 32 bit system.
	myint64 := int64(math.MaxInt64)
	ENFORCE(uint64(myint) == uint64(myint64), "Must be on 64 bit system.")
}
