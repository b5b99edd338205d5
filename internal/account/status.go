package account

// Status is the result of the last task run for an account.
type Status int

const (
	Pending Status = iota
	Success
	Completed
	CredentialInvalid
	Failed
	Error
	Unknown
)

// All lists every status in display order.
var All = []Status{Pending, Success, Completed, CredentialInvalid, Failed, Error, Unknown}

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Completed:
		return "completed"
	case CredentialInvalid:
		return "credential-invalid"
	case Failed:
		return "failed"
	case Error:
		return "error"
	case Unknown:
		return "unknown"
	}
	return "unknown"
}
