package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExpandCorePatternAppendsPidAndExt exercises S6: a plain literal
// pattern gets an implicit .<pid>.ve suffix.
func TestExpandCorePatternAppendsPidAndExt(t *testing.T) {
	got := expandCorePattern("core", 4242, "host1", "/opt/accel")
	assert.Equal(t, "/opt/accel/core.4242.ve", got)
}

func TestExpandCorePatternPidSpecifierSuppressesImplicitPid(t *testing.T) {
	got := expandCorePattern("core.%p", 4242, "host1", "/opt/accel")
	assert.Equal(t, "/opt/accel/core.4242.ve", got)
}

func TestExpandCorePatternHostnameSpecifier(t *testing.T) {
	got := expandCorePattern("/var/crash/%h/core", 77, "accel-3", "/opt/accel")
	assert.Equal(t, "/var/crash/accel-3/core.77.ve", got)
}

func TestExpandCorePatternLiteralPercent(t *testing.T) {
	got := expandCorePattern("core%%", 1, "h", "/bin")
	assert.Equal(t, "/bin/core%.1.ve", got)
}

func TestExpandCorePatternUnknownSpecifierEmitsNothing(t *testing.T) {
	got := expandCorePattern("core.%e", 9, "h", "/bin")
	assert.Equal(t, "/bin/core..9.ve", got)
}

func TestExpandCorePatternAbsolutePatternNotPrefixed(t *testing.T) {
	got := expandCorePattern("/var/crash/core.%p", 5, "h", "/opt/accel")
	assert.Equal(t, "/var/crash/core.5.ve", got)
}
