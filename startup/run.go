// Package startup is intended as a helper package to
// run services in go routines in main
package startup

import (
	"os"

	"github.com/dbplane/go-dbplane-common/environment"
	"github.com/dbplane/go-dbplane-common/logger"
	"github.com/dbplane/go-dbplane-common/tracing"
)

type Logger = logger.Logger

type Runner func(logger.Logger) error

// Run initialises logging and tracing and executes run, translating its
// error into the process exit code. defers do not work in main() because of
// the os.Exit call, hence the closure.
func Run(serviceName string, listenPort string, run Runner) {
	logger.New(environment.GetLogLevel())
	log := logger.Sugar.WithServiceName(serviceName)

	exitCode := func() int {
		if listenPort != "" {
			closer := tracing.NewTracer(listenPort)
			if closer != nil {
				defer closer.Close()
			}
		}
		err := run(log)
		if err != nil {
			log.Infof("Error at startup: %v", err)
			return 1
		}
		return 0
	}()

	log.Infof("Shutting down")
	logger.OnExit()

	os.Exit(exitCode)
}

// RoutineFatalOnError runs a function in a go routine and fatals when the
// function errors.
func RoutineFatalOnError(serviceStart func() error) {
	go func() {
		err := serviceStart()
		if err != nil {
			logger.Sugar.Panicf("service failed with an error: %v", err)
		}
		logger.Sugar.Infof("service terminated")
	}()
}
