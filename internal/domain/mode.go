package domain

// Mode selects the conversational framing of a session.
type Mode string

const (
	// ModeConvinceAI has the user convince the bot that they are human.
	ModeConvinceAI Mode = "convince-ai"
	// ModeProveHuman has the bot interrogate the user.
	ModeProveHuman Mode = "prove-human"
)

// Roast level bounds.
const (
	MinRoastLevel     = 1
	MaxRoastLevel     = 10
	DefaultRoastLevel = 5
)

// NewChatName is the name a session gets when its conversation is cleared.
const NewChatName = "New Chat"

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeConvinceAI || m == ModeProveHuman
}

// Label returns the human readable mode name.
func (m Mode) Label() string {
	if m == ModeProveHuman {
		return "Prove Human"
	}
	return "Convince AI"
}

// Icon returns the emoji used in session names for this mode.
func (m Mode) Icon() string {
	if m == ModeProveHuman {
		return "👤"
	}
	return "🤖"
}

// PlaceholderName is shown until a real name is generated.
func (m Mode) PlaceholderName() string {
	if m == ModeProveHuman {
		return "👤 Testing Human..."
	}
	return "🤖 Convincing AI..."
}

// ClampRoastLevel forces level into [MinRoastLevel, MaxRoastLevel].
func ClampRoastLevel(level int) int {
	if level < MinRoastLevel {
		return MinRoastLevel
	}
	if level > MaxRoastLevel {
		return MaxRoastLevel
	}
	return level
}
