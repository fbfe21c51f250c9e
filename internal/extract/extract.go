// Package extract derives lead fields from free-form conversation text.
//
// Extraction is heuristic. Every call rescans the whole history so that a
// later clarification overrides an earlier misread; the cost grows with the
// conversation, which is acceptable for the short sessions this serves.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ent0n29/presales/internal/estimate"
	"github.com/ent0n29/presales/internal/leads"
	"github.com/ent0n29/presales/internal/memory"
)

const maxDetailsRunes = 500

var (
	// "my name is" and "call me" take any word; "I'm", "I am" and "this is"
	// only a capitalised one, since they mostly precede adjectives.
	namePattern   = regexp.MustCompile(`(?:(?i:\bmy name is|\bmy name's|\bcall me)\s+([A-Za-z][A-Za-z'\-]*)|(?i:\bi['’]m|\bi am|\bthis is)\s+([A-Z][A-Za-z'\-]*))(?:\s+([A-Z][A-Za-z'\-]*))?`)
	bareNo        = regexp.MustCompile(`(?i)^\s*no\s*(?:[,.!;:\-]|$)`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`(?:\+\d{1,3}[\s-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	intentPattern = regexp.MustCompile(`(?i)\b(?:need|want|build|building|looking for|interested in|develop|create|make)\s+(?:an?\s+|the\s+|some\s+|my\s+|our\s+)?([^.,!?;]+)`)
	phraseStop    = regexp.MustCompile(`(?i)\s+(?:for|to|that|which|with|so|because|and)\s+.*$`)
)

// Words that follow "I'm"/"I am" but are not names.
var nameStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "not": {}, "just": {}, "looking": {}, "interested": {},
	"here": {}, "fine": {}, "good": {}, "ok": {}, "okay": {}, "sure": {}, "trying": {},
	"building": {}, "working": {}, "from": {}, "with": {}, "in": {}, "at": {}, "on": {},
	"planning": {}, "thinking": {}, "hoping": {}, "going": {}, "wondering": {}, "ready": {},
	"happy": {}, "glad": {}, "sorry": {}, "new": {}, "also": {}, "still": {}, "very": {},
	"so": {}, "curious": {}, "calling": {}, "writing": {}, "after": {}, "about": {},
	"back": {}, "done": {}, "available": {}, "currently": {}, "it": {}, "great": {},
	"perfect": {}, "correct": {}, "right": {}, "what": {}, "all": {}, "for": {}, "my": {},
	"our": {}, "exactly": {}, "awesome": {}, "urgent": {},
}

var fillerWords = map[string]struct{}{
	"to": {}, "build": {}, "make": {}, "create": {}, "develop": {}, "get": {}, "have": {},
	"a": {}, "an": {}, "the": {}, "some": {}, "my": {}, "our": {}, "new": {},
}

var followUpPhrases = []string{
	"follow up", "follow-up", "followup", "contact me", "reach out", "get in touch",
	"reach me", "call me back", "email me", "store my", "save my", "keep my",
	"my info", "my details", "my information", "my contact",
}

// Phrases that grant consent on their own, without a separate "yes".
var directConsentPhrases = []string{
	"contact me", "reach out", "get in touch", "email me", "call me back", "follow up with me",
}

type Extractor struct {
	resolver *estimate.Resolver
	names    []catalogName
}

type catalogName struct {
	tokens string
	key    string
}

func New(resolver *estimate.Resolver) *Extractor {
	e := &Extractor{resolver: resolver}
	if resolver == nil || resolver.Catalog() == nil {
		return e
	}
	cat := resolver.Catalog()
	for _, name := range cat.Names() {
		rec, ok := cat.Lookup(name)
		if !ok {
			continue
		}
		e.names = append(e.names, catalogName{tokens: tokenize(name), key: rec.ProjectType})
	}
	return e
}

// Extract recomputes a draft from the user turns of a history. Fields with no
// match are left empty.
func (e *Extractor) Extract(turns []memory.Turn) leads.Draft {
	var d leads.Draft

	for _, t := range turns {
		if t.Sender != memory.SenderUser {
			continue
		}
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if name := ExtractName(text); name != "" {
			d.Name = name
		}
		// The latest turn naming a contact wins; within a turn email beats phone.
		if m := emailPattern.FindAllString(text, -1); len(m) > 0 {
			d.Contact = m[len(m)-1]
		} else if m := phonePattern.FindAllString(text, -1); len(m) > 0 {
			d.Contact = strings.TrimSpace(m[len(m)-1])
		}
		if key, details, ok := e.projectType(text); ok {
			d.ProjectType = key
			d.ProjectDetails = details
		}
		if GrantsConsent(text) {
			d.FollowUpConsent = true
		}
	}
	return d
}


// ProjectType resolves a single utterance to a catalog key.
func (e *Extractor) ProjectType(text string) (string, bool) {
	key, _, ok := e.projectType(text)
	return key, ok
}

func (e *Extractor) projectType(text string) (key, details string, ok bool) {
	padded := " " + tokenize(text) + " "
	best := -1
	for i, n := range e.names {
		if n.tokens == "" || !strings.Contains(padded, " "+n.tokens+" ") {
			continue
		}
		if best < 0 || len(n.tokens) > len(e.names[best].tokens) {
			best = i
		}
	}
	if best >= 0 {
		return e.names[best].key, detailsAfter(text, e.names[best].tokens), true
	}

	if e.resolver == nil {
		return "", "", false
	}
	for _, m := range intentPattern.FindAllStringSubmatch(text, -1) {
		phrase := strings.TrimSpace(phraseStop.ReplaceAllString(trimFiller(m[1]), ""))
		if phrase == "" {
			continue
		}
		if res := e.resolver.Resolve(phrase); res.Found {
			return res.Record.ProjectType, "", true
		}
	}
	return "", "", false
}

// ExtractName returns the last name introduced in text, title-cased.
func ExtractName(text string) string {
	name := ""
	for _, m := range namePattern.FindAllStringSubmatch(text, -1) {
		first := strings.Trim(m[1]+m[2], "'-")
		if _, stop := nameStopwords[strings.ToLower(first)]; stop || first == "" {
			continue
		}
		parts := []string{titleCase(first)}
		if second := strings.Trim(m[3], "'-"); second != "" {
			if _, stop := nameStopwords[strings.ToLower(second)]; !stop {
				parts = append(parts, second)
			}
		}
		name = strings.Join(parts, " ")
	}
	return name
}

var affirmatives = splitPhrases(
	"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "absolutely", "definitely",
	"certainly", "correct", "confirm", "confirmed", "go ahead", "sounds good",
	"of course", "please do", "that's right", "looks good", "do it",
)

// Tokens that negate an affirmative keyword up to two tokens later.
var negators = map[string]struct{}{
	"no": {}, "not": {}, "isn't": {}, "isnt": {}, "aren't": {}, "wasn't": {},
	"doesn't": {}, "didn't": {}, "nope": {}, "nah": {},
}

// Phrases that veto the whole reply wherever they appear.
var vetoPhrases = splitPhrases(
	"don't", "dont", "do not", "not yet", "not now", "never", "wait", "cancel",
	"hold on", "hang on", "let me think", "not sure",
)

// Idioms containing "no" that read as agreement.
var agreeingNo = splitPhrases("no problem", "no worries", "no doubt")

// IsAffirmative reports whether text reads as a confirmation. Any negated or
// hesitant phrasing makes it false, even when another keyword agrees.
func IsAffirmative(text string) bool {
	toks := replyTokens(text)
	found := false
	for _, phrase := range affirmatives {
		for _, i := range indexPhrase(toks, phrase) {
			if negatedAt(toks, i, len(phrase)) {
				return false
			}
			found = true
		}
	}
	return found
}

// GrantsConsent reports an affirmative answer that references follow-up or
// keeping the user's details.
func GrantsConsent(text string) bool {
	toks := replyTokens(text)
	if len(toks) == 0 {
		return false
	}
	lower := " " + strings.Join(toks, " ") + " "
	mentionsFollowUp := false
	for _, p := range followUpPhrases {
		if strings.Contains(lower, " "+p) {
			mentionsFollowUp = true
			break
		}
	}
	if !mentionsFollowUp {
		return false
	}
	for _, p := range directConsentPhrases {
		if strings.Contains(lower, " "+p) {
			return true
		}
	}
	return IsAffirmative(text)
}

// replyTokens tokenizes a reply with agreeing "no" idioms removed. It returns
// nil when the reply as a whole is a refusal or contains a veto phrase.
func replyTokens(text string) []string {
	if bareNo.MatchString(text) {
		return nil
	}
	toks := strings.Fields(tokenize(text))
	for _, idiom := range agreeingNo {
		for idx := indexPhrase(toks, idiom); len(idx) > 0; idx = indexPhrase(toks, idiom) {
			toks = append(toks[:idx[0]:idx[0]], toks[idx[0]+len(idiom):]...)
		}
	}
	if len(toks) == 0 || toks[0] == "nope" || toks[0] == "nah" {
		return nil
	}
	for _, veto := range vetoPhrases {
		if len(indexPhrase(toks, veto)) > 0 {
			return nil
		}
	}
	return toks
}

// negatedAt reports a negator in the two tokens before position i or right
// after the n-token phrase starting there.
func negatedAt(toks []string, i, n int) bool {
	for j := max(0, i-2); j < i; j++ {
		if _, ok := negators[toks[j]]; ok {
			return true
		}
	}
	return i+n < len(toks) && toks[i+n] == "not"
}

// indexPhrase returns every token position where phrase starts.
func indexPhrase(toks, phrase []string) []int {
	var out []int
	for i := 0; i+len(phrase) <= len(toks); i++ {
		match := true
		for k, w := range phrase {
			if toks[i+k] != w {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

func splitPhrases(phrases ...string) [][]string {
	out := make([][]string, len(phrases))
	for i, p := range phrases {
		out[i] = strings.Fields(p)
	}
	return out
}


// tokenize lowercases text and replaces everything except letters, digits,
// apostrophes and hyphens with single spaces.
func tokenize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if r == '’' {
			r = '\''
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func trimFiller(phrase string) string {
	words := strings.Fields(phrase)
	for len(words) > 0 {
		if _, ok := fillerWords[strings.ToLower(words[0])]; !ok {
			break
		}
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func detailsAfter(text, tokens string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, tokens)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(text[idx+len(tokens):], " ,.;:!?-")
	rest = strings.TrimSpace(rest)
	if utf8.RuneCountInString(rest) > maxDetailsRunes {
		rest = string([]rune(rest)[:maxDetailsRunes])
	}
	return rest
}

func titleCase(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}
