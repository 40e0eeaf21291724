package normalize

import (
	"fmt"

	"go.uber.org/zap"
)

// LogObserver logs every defaulted coercion at debug level
func LogObserver(log *zap.Logger) Observer {
	return ObserverFunc(func(e Event) {
		log.Debug("Coercion defaulted",
			zap.String("vendor_id", e.VendorID),
			zap.String("field", e.Field),
			zap.String("type", string(e.Type)),
			zap.String("raw", fmt.Sprintf("%v", e.Raw)),
			zap.String("reason", e.Reason),
		)
	})
}
