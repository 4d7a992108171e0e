// Package all registers every index variant with the index registry.
package all

import (
	_ "github.com/hupe1980/annexec/index/flat"
	_ "github.com/hupe1980/annexec/index/gpuivf"
	_ "github.com/hupe1980/annexec/index/ivf"
)
