package config

const (
	// TopicIngest is the NSQ topic for asynchronous document ingestion tasks.
	TopicIngest = "docs.ingest"

	// TopicReprocess is the NSQ topic for asynchronous reprocess requests.
	TopicReprocess = "docs.reprocess"
)
