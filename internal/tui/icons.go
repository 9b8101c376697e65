package tui

// Icons. Color is the primary signal; the shape reinforces it.
const (
	IconCheck   = "\u2714" // heavy check mark (allowed, success)
	IconCross   = "\u2716" // heavy multiplication X (error)
	IconWarning = "\u26A0" // warning sign
	IconInfo    = "\u2139" // information source (asks)
	IconBlock   = "\u2298" // circled division slash (denied)
	IconLock    = "\u26BF" // squared key (pin)
	IconSquare  = "\u25AA" // small square (severity badge)
)
