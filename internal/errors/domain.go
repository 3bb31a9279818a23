package errors

// Constructors for the pipeline failure taxonomy. Callers match them with
// IsSourceFormat, IsIndexUnavailable and IsEmbeddingFailure rather than by
// message.

// SourceFormatError reports a source whose root structure is missing or
// malformed. It aborts ingestion of that source only.
func SourceFormatError(err error, source, path string) *EnhancedError {
	return New(err).
		Component("ingest").
		Category(CategorySourceFormat).
		Context("source", source).
		FileContext(path).
		Build()
}

// IndexUnavailableError reports a vector index that cannot be opened,
// created or written.
func IndexUnavailableError(err error, operation string) *EnhancedError {
	return New(err).
		Component("vectorindex").
		Category(CategoryIndexUnavailable).
		Context("operation", operation).
		Build()
}

// EmbeddingFailureError reports an embedding call that still failed after
// the retry budget was spent.
func EmbeddingFailureError(err error, embedder string, attempts int) *EnhancedError {
	return New(err).
		Component("embedding").
		Category(CategoryEmbedding).
		Context("embedder", embedder).
		Context("attempts", attempts).
		Build()
}

// IsSourceFormat reports whether err aborted a source.
func IsSourceFormat(err error) bool {
	return IsCategory(err, CategorySourceFormat)
}

// IsIndexUnavailable reports whether err means the vector index is unusable.
func IsIndexUnavailable(err error) bool {
	return IsCategory(err, CategoryIndexUnavailable)
}

// IsEmbeddingFailure reports whether err is an exhausted embedding failure.
func IsEmbeddingFailure(err error) bool {
	return IsCategory(err, CategoryEmbedding)
}
