package errors

var (
	// Domain errors used in usecase and repository code.
	ErrEmptyMessage         = InvalidArg("message requires text or an attachment")
	ErrEmptyParticipants    = InvalidArg("conversation requires at least one participant")
	ErrUnknownParticipant   = InvalidArg("participant is not a registered user")
	ErrNotParticipant       = Forbidden("sender is not a participant of this conversation")
	ErrNotSender            = Forbidden("only the sender can delete a message")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrAttachmentMissing    = NotFound("message has no attachment")
)

func ErrAttachmentUploadFailed(cause error) error {
	return Wrap(CodeUnavailable, "attachment upload failed", cause)
}

func ErrStorageWriteFailed(cause error) error {
	return Wrap(CodeUnavailable, "message write failed", cause)
}

// ErrPartialFailure marks a send where the attachment was stored but the
// message write never succeeded. Retrying with the same correlation token
// is safe and will not re-upload the blob.
func ErrPartialFailure(cause error) error {
	return Wrap(CodeAborted, "attachment stored but message write failed", cause)
}
