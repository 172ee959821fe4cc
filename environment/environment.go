package environment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dbplane/go-dbplane-common/logger"
)

// GetLogLevel returns the loglevel or panics. This is called before any logger
// is available. i.e. don't use a logger here.
func GetLogLevel() string {
	value, ok := os.LookupEnv("LOGLEVEL")
	if !ok {
		panic(errors.New("No loglevel specified"))
	}
	return value
}

// GetWithDefault returns value of environment variable.
// If the environment variable does not exist or is empty,
// then the default value is returned.
func GetWithDefault(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		value = fallback
	}
	return value
}

// GetOrFatal returns the key's value or logs a Fatal error (and exits)
func GetOrFatal(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		logger.Sugar.Panicf("required environment variable is not defined: %s", key)
	}
	return value
}

// GetIntWithDefault returns value of environment variable that is
// expected to be an int.
// If the environment variable does not exist or is incorrect,
// then the default value is returned.
func GetIntWithDefault(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(val)
	if err != nil {
		logger.Sugar.Infof("`%s' can not be converted to an integer. defaulting to %v. err=%v", key, fallback, err)
		return fallback
	}
	return value
}

// GetIntOrFatal returns value of environment variable that is
// expected to be an int, otherwise logs a Fatal error (and exits)
func GetIntOrFatal(key string) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		logger.Sugar.Panicf("required environment variable is not defined: %s", key)
	}
	value, err := strconv.Atoi(val)
	if err != nil {
		logger.Sugar.Panicf("unable to convert %s value to int: %v", key, err)
	}
	return value
}

// GetDurationWithDefault returns value of environment variable that is
// expected to be a go duration string ("250ms", "5s", ...).
// If the environment variable does not exist or is incorrect,
// then the default value is returned.
func GetDurationWithDefault(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(val)
	if err != nil {
		logger.Sugar.Infof("`%s' can not be converted to a duration. defaulting to %v. err=%v", key, fallback, err)
		return fallback
	}
	return value
}

// GetRequired gets the value for the key, or an error if it is not set.
func GetRequired(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("required environment variable '%s' is not defined", key)
	}
	return value, nil
}

// GetTruthy returns true if key is set to a value that is truthy. Returns
// false otherwise.
func GetTruthy(key string) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	// t,true,True,1 are all examples of 'truthy' values understood by ParseBool
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return b
}

// ReadIndirectOrFatal reads filename and uses it to read a value from the file.
// Any error is Fatal. This is how secrets mounted as files (redis passwords)
// reach the process without appearing in the environment itself.
func ReadIndirectOrFatal(varname string) string {
	filename, ok := os.LookupEnv(varname)
	if !ok {
		logger.Sugar.Panicf("environment variable `%s' not present in env", varname)
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		logger.Sugar.Panicf("error reading file `%s': %s", filename, err)
	}
	return string(b)
}

// ReadWithDefault reads the file named by the varname env var if both the
// env var and the file exist, otherwise returns the default.
func ReadWithDefault(varname, defaultValue string) string {
	filename, ok := os.LookupEnv(varname)
	if !ok {
		return defaultValue
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultValue
		}
		logger.Sugar.Panicf("failed to read `%s': %v", filename, err)
	}
	return string(b)
}
