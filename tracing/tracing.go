// Package tracing is responsible for initialising the tracer and forwarding
// span headers on internal requests.
package tracing

import (
	"io"
	"log"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	otnethttp "github.com/opentracing-contrib/go-stdlib/nethttp"
	opentracing "github.com/opentracing/opentracing-go"
	zipkinot "github.com/openzipkin-contrib/zipkin-go-opentracing"
	zipkin "github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"

	"github.com/dbplane/go-dbplane-common/environment"
	"github.com/dbplane/go-dbplane-common/logger"
)

const (
	requestID         = "x-request-id"
	otSpanContext     = "x-ot-span-context"
	prefixTracerState = "x-b3-"
	TraceID           = prefixTracerState + "traceid"
	spanID            = prefixTracerState + "spanid"
	parentSpanID      = prefixTracerState + "parentspanid"
	sampled           = prefixTracerState + "sampled"
	flags             = prefixTracerState + "flags"
)

var otHeaders = []string{
	requestID,
	otSpanContext,
	prefixTracerState,
	TraceID,
	spanID,
	parentSpanID,
	sampled,
	flags,
}

func HTTPMiddleware(h http.Handler) http.Handler {
	return otnethttp.Middleware(
		opentracing.GlobalTracer(),
		h,
		otnethttp.OperationNameFunc(func(r *http.Request) string {
			return "HTTP " + r.Method + ":" + r.URL.EscapedPath() + " >"
		}),
	)
}

// HeaderMatcher ensures that open tracing headers x-b3-* are forwarded to
// outgoing requests.
func HeaderMatcher(key string) (string, bool) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	for _, tracingKey := range otHeaders {
		if strings.ToLower(key) == tracingKey {
			return key, true
		}
	}
	return "", false
}

func trimPodName(p string) string {
	a := strings.Split(p, "-")
	i := len(a)
	if i > 2 {
		return strings.Join(a[:i-2], "-")
	}
	if i > 1 {
		return strings.Join(a[:i-1], "-")
	}
	return p
}

// NewTracer derives the reported service identity from the conventional
// kubernetes downward API env vars.
func NewTracer(listenPort string) io.Closer {
	instanceName, _, _ := strings.Cut(environment.GetOrFatal("POD_NAME"), " ")
	nameSpace := environment.GetOrFatal("POD_NAMESPACE")
	containerName := environment.GetOrFatal("CONTAINER_NAME")
	podName := strings.Join([]string{trimPodName(instanceName), nameSpace, containerName}, ".")
	return NewFromEnv(strings.TrimSpace(podName), "localhost:"+listenPort, "ZIPKIN_ENDPOINT", "DISABLE_ZIPKIN")
}

// NewFromEnv initialises tracing and returns a closer if tracing is
// configured. If the endpoint is not configured and disableVar is truthy,
// tracing is disabled and nil is returned.
func NewFromEnv(service string, host string, endpointVar, disableVar string) io.Closer {
	ze, ok := os.LookupEnv(endpointVar)
	if !ok {
		if disabled := environment.GetTruthy(disableVar); !disabled {
			logger.Sugar.Panicf(
				"'%s' has not been provided and is not disabled by '%s'",
				endpointVar, disableVar)
		}
		logger.Sugar.Infof("zipkin disabled by '%s'", disableVar)
		return nil
	}
	if disabled := environment.GetTruthy(disableVar); disabled {
		logger.Sugar.Infof("'%s' set, zipkin disabled", disableVar)
		return nil
	}
	return New(service, host, ze)
}

// New initialises the global tracer using the zipkin client tracer.
func New(service string, host string, zipkinEndpoint string) io.Closer {
	localEndpoint, err := zipkin.NewEndpoint(service, host)
	if err != nil {
		logger.Sugar.Panicf("unable to create zipkin local endpoint service '%s' - host '%s': %v", service, host, err)
	}

	zipkinLogger := log.New(os.Stdout, "zipkin", log.Ldate|log.Ltime|log.Lmicroseconds|log.Llongfile)
	reporter := zipkinhttp.NewReporter(zipkinEndpoint, zipkinhttp.Logger(zipkinLogger))

	nativeTracer, err := zipkin.NewTracer(
		reporter,
		zipkin.WithLocalEndpoint(localEndpoint),
		zipkin.WithSharedSpans(false),
	)
	if err != nil {
		logger.Sugar.Panicf("unable to create zipkin tracer: %v", err)
	}

	tracer := zipkinot.Wrap(nativeTracer)
	opentracing.SetGlobalTracer(tracer)

	return reporter
}
