package storage

import "storyforge/internal/ports"

// Provider is the artifact storage contract used by the pipeline and
// the HTTP result endpoint. Alias to ports.StorageProvider to keep
// call-sites simple.
type Provider = ports.StorageProvider
