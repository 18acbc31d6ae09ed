package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/basecamp/issuesync/internal/coordinator"
	"github.com/basecamp/issuesync/internal/output"
)

// refreshMode is the value of --refresh.
type refreshMode string

const (
	refreshAuto    refreshMode = "auto"    // fetch when missing or older than max age
	refreshAlways  refreshMode = "always"  // fetch every time
	refreshNever   refreshMode = "never"   // cache only
	refreshMissing refreshMode = "missing" // fetch only when nothing is cached
)

var refreshModes = []refreshMode{refreshAuto, refreshAlways, refreshNever, refreshMissing}

func (m *refreshMode) String() string { return string(*m) }

func (m *refreshMode) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, mode := range refreshModes {
		if string(mode) == v {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("must be one of auto, always, never, missing")
}

func (m *refreshMode) Type() string { return "mode" }

var _ pflag.Value = (*refreshMode)(nil)

// refreshFlags are shared by the commands that observe issues.
type refreshFlags struct {
	mode   refreshMode
	maxAge time.Duration
}

// register adds --refresh and --max-age to fs.
func (f *refreshFlags) register(fs *pflag.FlagSet) {
	f.mode = refreshAuto
	fs.Var(&f.mode, "refresh", "When to fetch from the API: auto, always, never, missing")
	fs.DurationVar(&f.maxAge, "max-age", 0, "Maximum cache age for --refresh auto (default from config)")
}

// refreshPolicy builds the policy selected by the flags. defaultMaxAge
// applies when --max-age is not given.
func refreshPolicy[V any](f refreshFlags, defaultMaxAge time.Duration) (coordinator.RefreshPolicy[V], error) {
	if f.maxAge < 0 {
		return nil, output.ErrUsage("--max-age cannot be negative")
	}
	switch f.mode {
	case refreshAlways:
		return coordinator.Always[V](), nil
	case refreshNever:
		return coordinator.Never[V](), nil
	case refreshMissing:
		return coordinator.IfMissing[V](), nil
	case refreshAuto, "":
		maxAge := f.maxAge
		if maxAge == 0 {
			maxAge = defaultMaxAge
		}
		return coordinator.OlderThan[V](maxAge), nil
	}
	return nil, output.ErrUsage(fmt.Sprintf("Unknown refresh mode %q", f.mode))
}
