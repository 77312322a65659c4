package fetchgraph

import "maps"

// LockMode is the row lock held on, or requested for, an entity instance.
type LockMode uint8

// Lock modes, ordered by strength.
const (
	LockNone LockMode = iota
	LockRead
	LockPessimisticRead
	LockUpgrade
	LockUpgradeNoWait
	LockUpgradeSkipLocked
	LockWrite
	LockForce
)

var lockLevels = [...]int{
	LockNone:              0,
	LockRead:              5,
	LockPessimisticRead:   8,
	LockUpgrade:           10,
	LockUpgradeNoWait:     10,
	LockUpgradeSkipLocked: 10,
	LockWrite:             10,
	LockForce:             15,
}

var lockNames = [...]string{
	LockNone:              "none",
	LockRead:              "read",
	LockPessimisticRead:   "pessimistic_read",
	LockUpgrade:           "upgrade",
	LockUpgradeNoWait:     "upgrade_nowait",
	LockUpgradeSkipLocked: "upgrade_skiplocked",
	LockWrite:             "write",
	LockForce:             "force",
}

// LessThan reports whether m is strictly weaker than o.
func (m LockMode) LessThan(o LockMode) bool {
	return lockLevels[m] < lockLevels[o]
}

// GreaterThan reports whether m is strictly stronger than o.
func (m LockMode) GreaterThan(o LockMode) bool {
	return lockLevels[m] > lockLevels[o]
}

// IsPessimistic reports whether the mode requires a database row lock.
func (m LockMode) IsPessimistic() bool {
	return lockLevels[m] >= lockLevels[LockPessimisticRead]
}

// String returns the mode name.
func (m LockMode) String() string {
	if int(m) < len(lockNames) {
		return lockNames[m]
	}
	return "unknown"
}

// ParseLockMode returns the mode with the given name.
func ParseLockMode(s string) (LockMode, bool) {
	for i, n := range lockNames {
		if n == s {
			return LockMode(i), true
		}
	}
	return LockNone, false
}

// Lock timeouts understood by LockOptions.Timeout.
const (
	WaitForever = -1
	NoWait      = 0
	SkipLocked  = -2
)

// LockOptions is the lock request of one fetch: a default mode plus
// optional per-alias overrides.
type LockOptions struct {
	Mode    LockMode
	Timeout int // Milliseconds, or one of WaitForever, NoWait, SkipLocked.
	aliases map[string]LockMode
}

// NewLockOptions returns options requesting mode for every alias.
func NewLockOptions(mode LockMode) *LockOptions {
	return &LockOptions{Mode: mode, Timeout: WaitForever}
}

// SetAliasMode overrides the lock mode for one table alias.
func (o *LockOptions) SetAliasMode(alias string, mode LockMode) *LockOptions {
	if o.aliases == nil {
		o.aliases = make(map[string]LockMode)
	}
	o.aliases[alias] = mode
	return o
}

// AliasMode returns the mode requested for alias, falling back to Mode.
func (o *LockOptions) AliasMode(alias string) LockMode {
	if o == nil {
		return LockNone
	}
	if m, ok := o.aliases[alias]; ok {
		return m
	}
	return o.Mode
}

// HasAliasModes reports whether any alias override was set.
func (o *LockOptions) HasAliasModes() bool {
	return o != nil && len(o.aliases) > 0
}

// AliasModes returns a copy of the per-alias overrides.
func (o *LockOptions) AliasModes() map[string]LockMode {
	if o == nil {
		return nil
	}
	return maps.Clone(o.aliases)
}

// Greatest returns the strongest mode requested anywhere in the options.
func (o *LockOptions) Greatest() LockMode {
	if o == nil {
		return LockNone
	}
	m := o.Mode
	for _, am := range o.aliases {
		if am.GreaterThan(m) {
			m = am
		}
	}
	return m
}
