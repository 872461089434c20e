package global

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/set"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	Logging interface {
		Log() *zap.SugaredLogger
		Tracef(tag string, format string, args ...any)
	}

	// Environment is what every component of the engine expects from its owner
	Environment interface {
		Logging
		MetricsRegistry() *prometheus.Registry
	}

	Global struct {
		*zap.SugaredLogger
		registry       *prometheus.Registry
		enabledTrace   *atomic.Bool
		traceTagsMutex *sync.RWMutex
		traceTags      set.Set[string]
	}
)

func New(log ...*zap.SugaredLogger) *Global {
	var l *zap.SugaredLogger
	if len(log) > 0 {
		l = log[0]
	} else {
		l = NewLogger("", zapcore.InfoLevel, nil, "")
	}
	return &Global{
		SugaredLogger:  l,
		registry:       prometheus.NewRegistry(),
		enabledTrace:   new(atomic.Bool),
		traceTagsMutex: new(sync.RWMutex),
		traceTags:      set.New[string](),
	}
}

func NewDefault() *Global {
	return New()
}

func (l *Global) Log() *zap.SugaredLogger {
	return l.SugaredLogger
}

func (l *Global) MetricsRegistry() *prometheus.Registry {
	return l.registry
}

func (l *Global) EnableTrace(enable bool) {
	l.enabledTrace.Store(enable)
}

func (l *Global) EnableTraceTags(tags ...string) {
	l.traceTagsMutex.Lock()
	for _, t := range tags {
		for _, t1 := range strings.Split(t, ",") {
			if t1 = strings.TrimSpace(t1); t1 != "" {
				l.traceTags.Insert(t1)
			}
		}
		l.enabledTrace.Store(true)
	}
	l.traceTagsMutex.Unlock()
	for _, tag := range tags {
		l.Tracef(tag, "trace tag enabled")
	}
}

func (l *Global) DisableTraceTag(tag string) {
	l.traceTagsMutex.Lock()
	defer l.traceTagsMutex.Unlock()

	l.traceTags.Remove(tag)
	if len(l.traceTags) == 0 {
		l.enabledTrace.Store(false)
	}
}

func (l *Global) TraceLog(log *zap.SugaredLogger, tag string, format string, args ...any) {
	if !l.enabledTrace.Load() {
		return
	}

	l.traceTagsMutex.RLock()
	defer l.traceTagsMutex.RUnlock()

	for _, t := range strings.Split(tag, ",") {
		if l.traceTags.Contains(t) {
			log.Infof("TRACE(%s) %s", t, fmt.Sprintf(format, util.EvalLazyArgs(args...)...))
			return
		}
	}
}

// TraceTagEnabled true if tracing is on and the tag is enabled
func (l *Global) TraceTagEnabled(tag string) bool {
	if !l.enabledTrace.Load() {
		return false
	}
	l.traceTagsMutex.RLock()
	defer l.traceTagsMutex.RUnlock()
	return l.traceTags.Contains(tag)
}

func (l *Global) traceOwner() *Global {
	return l
}

func (l *Global) Tracef(tag string, format string, args ...any) {
	l.TraceLog(l.Log(), tag, format, args...)
}

// SubLogger shares trace tags and the metrics registry with its parent
type SubLogger struct {
	*Global
}

func MakeSubLogger(env Environment, name string) SubLogger {
	ret := SubLogger{&Global{
		SugaredLogger:  env.Log().Named(name),
		registry:       env.MetricsRegistry(),
		enabledTrace:   new(atomic.Bool),
		traceTagsMutex: new(sync.RWMutex),
		traceTags:      set.New[string](),
	}}
	// any environment embedding *Global shares its trace state
	if owner, ok := env.(interface{ traceOwner() *Global }); ok {
		g := owner.traceOwner()
		ret.enabledTrace = g.enabledTrace
		ret.traceTagsMutex = g.traceTagsMutex
		ret.traceTags = g.traceTags
	}
	return ret
}
