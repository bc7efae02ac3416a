package payment

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// latinFolds covers letters that do not decompose into base + combining mark.
// Decomposable accents are handled by foldLatinMarks below.
var latinFolds = strings.NewReplacer(
	"Š", "S", "š", "s", "Ð", "Dj", "Ž", "Z", "ž", "z",
	"À", "A", "Á", "A", "Â", "A", "Ã", "A", "Ä", "A",
	"Å", "A", "Æ", "A", "Ç", "C", "È", "E", "É", "E",
	"Ê", "E", "Ë", "E", "Ì", "I", "Í", "I", "Î", "I",
	"Ï", "I", "Ñ", "N", "Ń", "N", "Ò", "O", "Ó", "O",
	"Ô", "O", "Õ", "O", "Ö", "O", "Ø", "O", "Ù", "U",
	"Ú", "U", "Û", "U", "Ü", "U", "Ý", "Y", "Þ", "B",
	"ß", "Ss", "à", "a", "á", "a", "â", "a", "ã", "a",
	"ä", "a", "å", "a", "æ", "a", "ç", "c", "è", "e",
	"é", "e", "ê", "e", "ë", "e", "ì", "i", "í", "i",
	"î", "i", "ï", "i", "ð", "o", "ñ", "n", "ń", "n",
	"ò", "o", "ó", "o", "ô", "o", "õ", "o", "ö", "o",
	"ø", "o", "ù", "u", "ú", "u", "û", "u", "ü", "u",
	"ý", "y", "þ", "b", "ÿ", "y", "ƒ", "f",
	"ă", "a", "ș", "s", "ț", "t", "Ă", "A", "Ș", "S", "Ț", "T",
)

// HandlePaymentData folds diacritics to ASCII and strips characters the gateway
// rejects. Emails keep only alphanumerics and @ . _ -; other fields only lose
// angle brackets.
func HandlePaymentData(value string, isEmail bool) string {
	folded := foldDiacritics(value)
	if isEmail {
		return strings.Map(func(r rune) rune {
			if isEmailRune(r) {
				return r
			}
			return -1
		}, folded)
	}
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, folded)
}

// SanitizePhone removes every whitespace character from a phone number.
func SanitizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, phone)
}

func foldDiacritics(value string) string {
	return foldLatinMarks(latinFolds.Replace(value))
}

// foldLatinMarks drops combining marks attached to a Latin base letter. Marks on
// other scripts (Arabic harakat, kana voicing) are kept.
func foldLatinMarks(value string) string {
	decomposed := norm.NFD.String(value)
	var sb strings.Builder
	sb.Grow(len(decomposed))
	latinBase := false
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			if latinBase {
				continue
			}
		} else {
			latinBase = unicode.Is(unicode.Latin, r)
		}
		sb.WriteRune(r)
	}
	return norm.NFC.String(sb.String())
}

func isEmailRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '@', r == '.', r == '_', r == '-':
		return true
	default:
		return false
	}
}
