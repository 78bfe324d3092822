package metrics

const (
	LabelTimeBase = "time_base"

	SyncUpdatesH         = "The total number of accepted global time updates"
	SyncUpdatesN         = "stbm_sync_updates"
	SyncUpdatesRejectedH = "The total number of rejected global time updates"
	SyncUpdatesRejectedN = "stbm_sync_updates_rejected"
	SyncTimeLeapsH       = "The total number of detected time leaps"
	SyncTimeLeapsN       = "stbm_sync_time_leaps"
	SyncTimeoutsH        = "The total number of synchronization timeouts"
	SyncTimeoutsN        = "stbm_sync_timeouts"

	RateCorrectionsH          = "The total number of completed rate correction measurements"
	RateCorrectionsN          = "stbm_rate_corrections"
	RateCorrectionsDiscardedH = "The total number of discarded rate correction measurements"
	RateCorrectionsDiscardedN = "stbm_rate_corrections_discarded"
	RateDeviationH            = "The current rate deviation in ppm"
	RateDeviationN            = "stbm_rate_deviation_ppm"
	OffsetCorrectionsH        = "The total number of updates absorbed by offset correction"
	OffsetCorrectionsN        = "stbm_offset_corrections"

	TimerStartsH      = "The total number of started customer timers"
	TimerStartsN      = "stbm_timer_starts"
	TimerExpirationsH = "The total number of delivered customer timer expirations"
	TimerExpirationsN = "stbm_timer_expirations"
	TimerDeviationH   = "The deviation of the last delivered customer timer expiration in nanoseconds"
	TimerDeviationN   = "stbm_timer_deviation_ns"

	ShmWritesH = "The total number of shared memory publications"
	ShmWritesN = "stbm_shm_writes"
)
