// common/serviceid/serviceid.go
package serviceid

import (
	"github.com/davidshare/ObservaShop/common/backoff"
	"github.com/davidshare/ObservaShop/common/kafka/producer"
)

// ServiceNameKey — ключ лейбла для метрик всех подсистем.
const ServiceNameKey = "service"

// InitServiceName задаёт единое имя сервиса для backoff и Kafka-producer.
// Нужно вызывать в main() до любых попыток отправки метрик.
func InitServiceName(name string) {
	backoff.SetServiceLabel(name)
	producer.SetServiceLabel(name)
}
