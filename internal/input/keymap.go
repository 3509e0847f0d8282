package input

import (
	"log"
	"strings"
)

// X11 keysym constants
const (
	XK_BackSpace   = 0xFF08
	XK_Tab         = 0xFF09
	XK_Return      = 0xFF0D
	XK_Escape      = 0xFF1B
	XK_Delete      = 0xFFFF
	XK_Home        = 0xFF50
	XK_Left        = 0xFF51
	XK_Up          = 0xFF52
	XK_Right       = 0xFF53
	XK_Down        = 0xFF54
	XK_Page_Up     = 0xFF55
	XK_Page_Down   = 0xFF56
	XK_End         = 0xFF57
	XK_Insert      = 0xFF63
	XK_Shift_L     = 0xFFE1
	XK_Shift_R     = 0xFFE2
	XK_Control_L   = 0xFFE3
	XK_Control_R   = 0xFFE4
	XK_Caps_Lock   = 0xFFE5
	XK_Meta_L      = 0xFFE7
	XK_Meta_R      = 0xFFE8
	XK_Alt_L       = 0xFFE9
	XK_Alt_R       = 0xFFEA
	XK_Super_L     = 0xFFEB
	XK_Super_R     = 0xFFEC
	XK_F1          = 0xFFBE
	XK_F2          = 0xFFBF
	XK_F3          = 0xFFC0
	XK_F4          = 0xFFC1
	XK_F5          = 0xFFC2
	XK_F6          = 0xFFC3
	XK_F7          = 0xFFC4
	XK_F8          = 0xFFC5
	XK_F9          = 0xFFC6
	XK_F10         = 0xFFC7
	XK_F11         = 0xFFC8
	XK_F12         = 0xFFC9
	XK_space       = 0x0020
	XK_Print       = 0xFF61
	XK_Scroll_Lock = 0xFF14
	XK_Pause       = 0xFF13
	XK_Num_Lock    = 0xFF7F
	XK_Menu        = 0xFF67
)

// qwertyMap maps keysyms to the key codes of a US qwerty layout as the
// guest's input service expects them.
var qwertyMap = map[uint32]uint16{
	'a': 38, 'b': 56, 'c': 54, 'd': 40, 'e': 26, 'f': 41, 'g': 42,
	'h': 43, 'i': 31, 'j': 44, 'k': 45, 'l': 46, 'm': 58, 'n': 57,
	'o': 32, 'p': 33, 'q': 24, 'r': 27, 's': 39, 't': 28, 'u': 30,
	'v': 55, 'w': 25, 'x': 53, 'y': 29, 'z': 52,

	'1': 10, '2': 11, '3': 12, '4': 13, '5': 14,
	'6': 15, '7': 16, '8': 17, '9': 18, '0': 19,

	XK_Return:    36,
	XK_Escape:    9,
	XK_BackSpace: 22,
	XK_Tab:       23,
	XK_space:     65,

	'-':  20,
	'=':  21,
	'[':  34,
	']':  35,
	'\\': 51,
	';':  47,
	'\'': 48,
	'`':  49,
	',':  59,
	'.':  60,
	'/':  61,

	XK_Shift_L:   50,
	XK_Shift_R:   62,
	XK_Control_L: 37,
	XK_Control_R: 105,
	XK_Alt_L:     64,
	XK_Alt_R:     108,
	XK_Super_L:   133,
	XK_Super_R:   134,
	XK_Meta_L:    133,
	XK_Meta_R:    134,

	// Navigation and function keys.
	XK_Caps_Lock: 66,
	XK_Delete:    119,
	XK_Insert:    118,
	XK_Home:      110,
	XK_End:       115,
	XK_Page_Up:   112,
	XK_Page_Down: 117,
	XK_Left:      113,
	XK_Up:        111,
	XK_Right:     114,
	XK_Down:      116,
	XK_F1:        67,
	XK_F2:        68,
	XK_F3:        69,
	XK_F4:        70,
	XK_F5:        71,
	XK_F6:        72,
	XK_F7:        73,
	XK_F8:        74,
	XK_F9:        75,
	XK_F10:       76,
	XK_F11:       95,
	XK_F12:       96,
}

// LookupKeycode returns the key code for keysym. Upper-case letters share
// the code of their lower-case keysym.
func LookupKeycode(keysym uint32) (uint16, bool) {
	if keysym >= 'A' && keysym <= 'Z' {
		keysym += 'a' - 'A'
	}
	code, ok := qwertyMap[keysym]
	return code, ok
}

// codeMap maps DOM KeyboardEvent.code values to keysyms.
var codeMap = map[string]uint32{
	"Backspace":    XK_BackSpace,
	"Tab":          XK_Tab,
	"Enter":        XK_Return,
	"NumpadEnter":  XK_Return,
	"Escape":       XK_Escape,
	"Delete":       XK_Delete,
	"Home":         XK_Home,
	"End":          XK_End,
	"PageUp":       XK_Page_Up,
	"PageDown":     XK_Page_Down,
	"ArrowLeft":    XK_Left,
	"ArrowUp":      XK_Up,
	"ArrowRight":   XK_Right,
	"ArrowDown":    XK_Down,
	"Insert":       XK_Insert,
	"ShiftLeft":    XK_Shift_L,
	"ShiftRight":   XK_Shift_R,
	"ControlLeft":  XK_Control_L,
	"ControlRight": XK_Control_R,
	"CapsLock":     XK_Caps_Lock,
	"AltLeft":      XK_Alt_L,
	"AltRight":     XK_Alt_R,
	"MetaLeft":     XK_Super_L,
	"MetaRight":    XK_Super_R,
	"Space":        XK_space,
	"F1":           XK_F1,
	"F2":           XK_F2,
	"F3":           XK_F3,
	"F4":           XK_F4,
	"F5":           XK_F5,
	"F6":           XK_F6,
	"F7":           XK_F7,
	"F8":           XK_F8,
	"F9":           XK_F9,
	"F10":          XK_F10,
	"F11":          XK_F11,
	"F12":          XK_F12,
	"PrintScreen":  XK_Print,
	"ScrollLock":   XK_Scroll_Lock,
	"Pause":        XK_Pause,
	"NumLock":      XK_Num_Lock,
	"ContextMenu":  XK_Menu,
	// Letter keys
	"KeyA": 'a', "KeyB": 'b', "KeyC": 'c', "KeyD": 'd',
	"KeyE": 'e', "KeyF": 'f', "KeyG": 'g', "KeyH": 'h',
	"KeyI": 'i', "KeyJ": 'j', "KeyK": 'k', "KeyL": 'l',
	"KeyM": 'm', "KeyN": 'n', "KeyO": 'o', "KeyP": 'p',
	"KeyQ": 'q', "KeyR": 'r', "KeyS": 's', "KeyT": 't',
	"KeyU": 'u', "KeyV": 'v', "KeyW": 'w', "KeyX": 'x',
	"KeyY": 'y', "KeyZ": 'z',
	// Digit keys
	"Digit0": '0', "Digit1": '1', "Digit2": '2', "Digit3": '3',
	"Digit4": '4', "Digit5": '5', "Digit6": '6', "Digit7": '7',
	"Digit8": '8', "Digit9": '9',
	// Punctuation
	"Minus":        '-',
	"Equal":        '=',
	"BracketLeft":  '[',
	"BracketRight": ']',
	"Backslash":    '\\',
	"Semicolon":    ';',
	"Quote":        '\'',
	"Backquote":    '`',
	"Comma":        ',',
	"Period":       '.',
	"Slash":        '/',
}

var keyMap = map[string]uint32{
	"backspace":  XK_BackSpace,
	"tab":        XK_Tab,
	"enter":      XK_Return,
	"escape":     XK_Escape,
	"delete":     XK_Delete,
	"home":       XK_Home,
	"end":        XK_End,
	"pageup":     XK_Page_Up,
	"pagedown":   XK_Page_Down,
	"arrowleft":  XK_Left,
	"arrowup":    XK_Up,
	"arrowright": XK_Right,
	"arrowdown":  XK_Down,
	"insert":     XK_Insert,
	"shift":      XK_Shift_L,
	"control":    XK_Control_L,
	"alt":        XK_Alt_L,
	"meta":       XK_Super_L,
	" ":          XK_space,
}

// CodeToKeysym resolves a DOM key event to a keysym, preferring the
// physical key position. It returns 0 when nothing matches.
func CodeToKeysym(code, key string) uint32 {
	if ks, ok := codeMap[code]; ok {
		return ks
	}

	// For single printable characters, use the character directly
	if len(key) == 1 {
		r := rune(key[0])
		if r >= 0x20 && r <= 0x7E {
			return uint32(r)
		}
	}

	if ks, ok := keyMap[strings.ToLower(key)]; ok {
		return ks
	}

	log.Printf("input: unmapped key code=%s key=%s", code, key)
	return 0
}
