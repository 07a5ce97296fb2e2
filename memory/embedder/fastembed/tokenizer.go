package fastembed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenizer handles BERT-style WordPiece tokenization (uncased).
type Tokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
	padToken int

	// maxCharsPerWord bounds WordPiece work on pathological input.
	maxCharsPerWord int
}

// NewTokenizer builds a tokenizer from a WordPiece vocabulary.
// Special tokens fall back to the standard BERT ids when absent.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	lookup := func(tok string, fallback int) int {
		if id, ok := vocab[tok]; ok {
			return id
		}
		return fallback
	}
	return &Tokenizer{
		vocab:           vocab,
		clsToken:        lookup("[CLS]", 101),
		sepToken:        lookup("[SEP]", 102),
		unkToken:        lookup("[UNK]", 100),
		padToken:        lookup("[PAD]", 0),
		maxCharsPerWord: 100,
	}
}

// LoadTokenizer loads the vocabulary from a Hugging Face tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tokenizerData struct {
		Model struct {
			Type  string         `json:"type"`
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if t := tokenizerData.Model.Type; t != "" && t != "WordPiece" {
		return nil, fmt.Errorf("unsupported tokenizer model %q, want WordPiece", t)
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewTokenizer(tokenizerData.Model.Vocab), nil
}

// Encode tokenizes text into ids framed by [CLS] and [SEP], truncated to
// maxLen ids in total.
func (t *Tokenizer) Encode(text string, maxLen int) []int64 {
	tokens := t.Tokenize(text)
	if maxLen < 2 {
		maxLen = 2
	}
	if len(tokens) > maxLen-2 { // Reserve space for [CLS] and [SEP]
		tokens = tokens[:maxLen-2]
	}
	ids := make([]int64, 0, len(tokens)+2)
	ids = append(ids, int64(t.clsToken))
	ids = append(ids, tokens...)
	ids = append(ids, int64(t.sepToken))
	return ids
}

// Tokenize converts text to WordPiece token ids without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range basicTokenize(text) {
		for _, piece := range t.wordPiece(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

// wordPiece splits a word into the longest matching vocabulary pieces.
// A word with any unmatched remainder becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []string {
	chars := []rune(word)
	if len(chars) > t.maxCharsPerWord {
		return []string{"[UNK]"}
	}

	var pieces []string
	start := 0
	for start < len(chars) {
		end := len(chars)
		found := ""
		for end > start {
			substr := string(chars[start:end])
			if start > 0 {
				substr = "##" + substr // WordPiece continuation prefix
			}
			if _, ok := t.vocab[substr]; ok {
				found = substr
				break
			}
			end--
		}
		if found == "" {
			return []string{"[UNK]"}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// basicTokenize lowercases, strips accents, drops control characters, and
// splits on whitespace and punctuation. Punctuation and CJK ideographs
// become tokens of their own.
func basicTokenize(text string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	// NFD splits precomposed letters so their accents fall out as Mn runes.
	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r), unicode.Is(unicode.Mn, r):
			// Dropped: control characters and combining marks.
		case isPunctuation(r), isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

// isCJK reports whether r is a CJK ideograph. Hangul and kana are not.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
