package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	LF     = '\n'
	CR     = '\r'
	Prompt = ">"
	CtrlZ  = "\x1a"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// Boot banners. RDY is printed once the firmware is up, BROM when the
	// boot ROM runs (power-up, watchdog or PSM wake on the BC66).
	BootReady = "RDY"
	BootROM   = "BROM"

	// Status lines have the form +NAME: field1,field2,...
	StatusPrefix    = "+"
	StatusSeparator = ":"
)

// ResponseType is the category a framed modem line falls into.
type ResponseType int

const (
	TypeUnrecognized ResponseType = iota // Anything else, kept for diagnostics
	TypeBoot                             // Boot banner, the modem restarted
	TypeFinal                            // OK, ERROR, +CME ERROR: ...
	TypePrompt                           // Payload input prompt
	TypeStatus                           // +NAME: payload
)

func (t ResponseType) String() string {
	switch t {
	case TypeBoot:
		return "boot"
	case TypeFinal:
		return "final"
	case TypePrompt:
		return "prompt"
	case TypeStatus:
		return "status"
	default:
		return "unrecognized"
	}
}
