// common/config/config.go
//
// Пакет config объединяет viper (файл + ENV) и mapstructure-декодер
// в один вызов Load. Каждый сервис задаёт свой EnvPrefix и карту дефолтов.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Options описывает один запуск загрузчика конфигурации.
type Options struct {
	Path      string                 // путь к YAML-файлу; пустая строка → только ENV + Defaults
	EnvPrefix string                 // префикс ENV-переменных, например "AUTH"
	Out       interface{}            // указатель на целевую структуру
	Defaults  map[string]interface{} // дефолты в точечной нотации ("http.port")
}

// Load загружает конфиг в opts.Out: defaults → YAML → ENV, затем decode.
func Load(opts Options) error {
	if opts.Out == nil {
		return fmt.Errorf("config: Out is required")
	}

	v := viper.New()

	for key, val := range opts.Defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(opts.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %q: %w", opts.Path, err)
		}
	}

	if err := decode(v.AllSettings(), opts.Out); err != nil {
		return fmt.Errorf("config: decode failed: %w", err)
	}
	return nil
}
