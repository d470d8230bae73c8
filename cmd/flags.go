package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/logging"
)

// addFlagValidation makes the flag reject values validator refuses at parse
// time, before any configuration is loaded.
func addFlagValidation(flags *pflag.FlagSet, name string, validator func(string) error) {
	flag := flags.Lookup(name)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if err := v.validator(val); err != nil {
		return err
	}
	return v.Value.Set(val)
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", s)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

func validateLogLevel(s string) error {
	_, err := logging.ParseLevel(s)
	return err
}

func validateStorageDriver(s string) error {
	switch strings.ToLower(s) {
	case "", config.DriverMemory, config.DriverSQLite:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q (want %s or %s)", s, config.DriverMemory, config.DriverSQLite)
	}
}
