package settings

// DB config keys and defaults for runtime-tunable settings.
const (
	// UnlockMaxAttemptsKey is the number of attempts allowed per key within a window.
	UnlockMaxAttemptsKey = "UNLOCK_MAX_ATTEMPTS"
	// UnlockAttemptWindowSecondsKey is the rolling window for counting attempts.
	UnlockAttemptWindowSecondsKey = "UNLOCK_ATTEMPT_WINDOW_SECONDS"
	// UnlockLockoutSecondsKey is the cooldown applied once the threshold is exceeded.
	UnlockLockoutSecondsKey = "UNLOCK_LOCKOUT_SECONDS"
	// ReservationTTLSecondsKey is how long a reservation holds a card.
	ReservationTTLSecondsKey = "RESERVATION_TTL_SECONDS"
	// PlatformFeeMinorKey is the flat fee added to each checkout, in minor units.
	PlatformFeeMinorKey = "PLATFORM_FEE_MINOR"
	// ReconcileIntervalSecondsKey controls the reconciliation poll interval.
	ReconcileIntervalSecondsKey = "RECONCILE_INTERVAL_SECONDS"
	// ReconcileWindowHoursKey bounds how old a pending payment may be to be polled.
	ReconcileWindowHoursKey = "RECONCILE_WINDOW_HOURS"
	// ReconcileMaxConcurrencyKey caps concurrent gateway lookups per run.
	ReconcileMaxConcurrencyKey = "RECONCILE_MAX_CONCURRENCY"
	// AttemptsRetentionDaysKey controls how long idle attempt ledger rows are kept.
	AttemptsRetentionDaysKey = "ATTEMPTS_RETENTION_DAYS"

	DefaultUnlockMaxAttempts          = 5
	DefaultUnlockAttemptWindowSeconds = 15 * 60
	DefaultUnlockLockoutSeconds       = 15 * 60
	DefaultReservationTTLSeconds      = 24 * 60 * 60
	DefaultPlatformFeeMinor           = 300
	DefaultReconcileIntervalSeconds   = 60
	DefaultReconcileWindowHours       = 24
	DefaultReconcileMaxConcurrency    = 4
	DefaultAttemptsRetentionDays      = 7
)
