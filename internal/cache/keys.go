package cache

// JobKey returns the cache key for a job snapshot.
func JobKey(jobID string) string {
	return "adreel:job:" + jobID
}
