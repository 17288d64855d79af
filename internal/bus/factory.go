package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/oltr-sim/internal/config"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
	"github.com/ricesearch/oltr-sim/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When an
// event log is configured the bus is wrapped in a LoggedBus; when metrics is
// non-nil publishes are instrumented.
func NewBus(cfg config.BusConfig, metrics MetricsRecorder, log *logger.Logger) (Bus, error) {
	var b Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "oltr-sim"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "oltr-sim-bus",
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog != "" {
		el, err := NewEventLogger(cfg.EventLog)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b = NewLoggedBus(b, el, log)
	}

	if metrics != nil {
		b = NewInstrumentedBus(b, metrics)
	}

	return b, nil
}
