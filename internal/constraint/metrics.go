package constraint

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/courtkit/rotation/internal/constraint"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
