package notary

import "github.com/ethereum/go-ethereum/metrics"

var (
	appendMeter      = metrics.NewRegisteredMeter("notary/append", nil)
	proofLengthGauge = metrics.NewRegisteredGauge("notary/proof/length", nil)
)
