package kanary

import "errors"

var (
	// ErrNilIO indicates that NewReader/NewWriter was called with an nil interface
	ErrNilIO = errors.New("kanary: NewReader/NewWriter called with a nil io.Reader/io.Writer")

	// ErrSizeTooSmall indicates a size conflict with bufio
	ErrSizeTooSmall = errors.New("kanary: NewReaderSize with a size smaller than 16 conflict with bufio")

	// ErrAlreadyBuffered indicates that NewReader/NewWriter was called with an already-buffered
	// reader/writer, which would lead to unpredictable behavior and performance issues.
	ErrAlreadyBuffered = errors.New("kanary: reader or writer is already buffered")

	// ErrWriteToNil indicates a WriteTo operation was attempted on a nil io.Writer.
	ErrWriteToNil = errors.New("kanary: WriteTo called with a nil io.Writer")

	// ErrReadToNil indicates a ReadTo operation was attempted on a nil io.ReaderFrom.
	ErrReadToNil = errors.New("kanary: ReadTo called with a nil io.ReaderFrom")

	// ErrInvalidSeek indicates a seek was attempted to invalid position.
	ErrInvalidSeek = errors.New("kanary: seek to a invalid position")

	// ErrUnsupportedNegativeSeek indicates a backward seek was attempted on a forward-only seeker.
	ErrUnsupportedNegativeSeek = errors.New("kanary: unsupported negative offset for forward-only seeker")

	// ErrInvalidWhence indicates that an invalid 'whence' parameter was provided to a Seek operation.
	ErrInvalidWhence = errors.New("kanary: unsupported whence for forward-only seeker")

	// ErrInvalidWrite indicates that an io.Writer returned an invalid (negative) count from Write.
	ErrInvalidWrite = errors.New("kanary: writer returned invalid count from Write")

	// ErrInvalidRead indicates that an io.Reader returned an invalid (negative or outbound) count from Read.
	ErrInvalidRead = errors.New("kanary: reader returned invalid count from Read")

	// ErrDiscardNegative indicates a Discard operation was attempted with a negative byte count.
	ErrDiscardNegative = errors.New("kanary: cannot discard negative number of bytes")

	// ErrTrailingData is returned by CheckTrailingNotZeros when non-zero bytes are found
	// after the expected end of the data structure, indicating a potential parsing error or malformed data.
	ErrTrailingData = errors.New("kanary: non-zero trailing data found after decoding")

	// ErrTruncatedData indicates that a read operation could not complete because the
	// underlying data source (e.g., buffer, stream) ended before all expected bytes were read.
	ErrTruncatedData = errors.New("kanary: truncated data")

	// ErrMalformedProtocol is raised at schema-build time: duplicate read/write
	// assignment, illegal fallback/static combination, redefining a built-in, or
	// a subtype writer under a static ancestor.
	ErrMalformedProtocol = errors.New("kanary: malformed protocol")

	// ErrMissingOperation is raised at serialize/deserialize time when no
	// reader or writer can be resolved for a runtime value, or the value's
	// runtime type is anonymous (unnamed) and matches no built-in handler.
	ErrMissingOperation = errors.New("kanary: missing read or write operation")

	// ErrTypeMismatch is raised at deserialize time when the tag on the wire
	// does not match the typed read operation invoked.
	ErrTypeMismatch = errors.New("kanary: type mismatch")

	// ErrFraming is raised at deserialize time when an OBJECT block or
	// supertype packet is not terminated by END_OBJECT, a length prefix is
	// negative, or a streaming/aligned read finds an unexpected layout. A
	// stream that ends mid-value is not reported as ErrFraming: the Reader
	// surfaces io.ErrUnexpectedEOF (or io.EOF) instead.
	ErrFraming = errors.New("kanary: framing error")
)
