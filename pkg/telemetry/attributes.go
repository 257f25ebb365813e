package telemetry

import (
	"os"
	"os/user"
	"runtime"
	"strconv"

	"github.com/objectfs/msc/pkg/config"
)

// AttributesProvider contributes a set of label/value pairs attached to
// every metric this process emits.
type AttributesProvider interface {
	Attributes() map[string]string
}

// EnvironmentAttributesProvider copies selected environment variables
// into metric attributes, keyed by caller-chosen attribute names.
type EnvironmentAttributesProvider struct {
	// Mapping is attribute key -> environment variable name.
	Mapping map[string]string
}

func (p EnvironmentAttributesProvider) Attributes() map[string]string {
	out := make(map[string]string, len(p.Mapping))
	for attrKey, envKey := range p.Mapping {
		if v, ok := os.LookupEnv(envKey); ok {
			out[attrKey] = v
		}
	}
	return out
}

// HostAttributesProvider contributes the local hostname.
type HostAttributesProvider struct{}

func (HostAttributesProvider) Attributes() map[string]string {
	name, err := os.Hostname()
	if err != nil {
		return map[string]string{}
	}
	return map[string]string{"host.name": name}
}

// ProcessAttributesProvider contributes the current process id and the
// current goroutine count (this package's closest analogue to the
// thread-count attribute the Python implementation reports).
type ProcessAttributesProvider struct{}

func (ProcessAttributesProvider) Attributes() map[string]string {
	return map[string]string{
		"process.pid":        strconv.Itoa(os.Getpid()),
		"process.goroutines": strconv.Itoa(runtime.NumGoroutine()),
	}
}

// StaticAttributesProvider contributes a fixed set of attributes
// decided at construction time.
type StaticAttributesProvider struct {
	Values map[string]string
}

func (p StaticAttributesProvider) Attributes() map[string]string {
	out := make(map[string]string, len(p.Values))
	for k, v := range p.Values {
		out[k] = v
	}
	return out
}

// RuntimeAttributesProvider contributes the default metric attributes
// come from MSC_* env vars (job id/name/user, node id, cluster
// name), sourced from an already-loaded config.Runtime.
type RuntimeAttributesProvider struct {
	Runtime config.Runtime
}

func (p RuntimeAttributesProvider) Attributes() map[string]string {
	out := map[string]string{}
	add := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	add("job.id", p.Runtime.JobID)
	add("job.name", p.Runtime.JobName)
	add("job.user", p.Runtime.JobUser)
	add("node.id", p.Runtime.NodeID)
	add("cluster.name", p.Runtime.ClusterName)
	return out
}

// CurrentUserAttributesProvider falls back to the OS user when
// job.user was not supplied via MSC_JOB_USER.
type CurrentUserAttributesProvider struct{}

func (CurrentUserAttributesProvider) Attributes() map[string]string {
	u, err := user.Current()
	if err != nil {
		return map[string]string{}
	}
	return map[string]string{"job.user": u.Username}
}

// Merge combines attributes from providers in order; later providers
// overwrite keys set by earlier ones.
func Merge(providers ...AttributesProvider) map[string]string {
	out := map[string]string{}
	for _, p := range providers {
		for k, v := range p.Attributes() {
			out[k] = v
		}
	}
	return out
}
