package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39/wordlists"
	"golang.org/x/text/language"
)

var ErrUnsupportedLanguage = errors.New("host: unsupported mnemonic language")

type wordlist struct {
	tag   language.Tag
	name  string
	words []string
}

var wordlistTable = []wordlist{
	{language.English, "english", wordlists.English},
	{language.SimplifiedChinese, "chinese_simplified", wordlists.ChineseSimplified},
	{language.TraditionalChinese, "chinese_traditional", wordlists.ChineseTraditional},
	{language.Japanese, "japanese", wordlists.Japanese},
	{language.Korean, "korean", wordlists.Korean},
	{language.French, "french", wordlists.French},
	{language.Italian, "italian", wordlists.Italian},
	{language.Spanish, "spanish", wordlists.Spanish},
	{language.Czech, "czech", wordlists.Czech},
}

var wordlistMatcher = func() language.Matcher {
	tags := make([]language.Tag, 0, len(wordlistTable))
	for _, w := range wordlistTable {
		tags = append(tags, w.tag)
	}
	return language.NewMatcher(tags)
}()

// resolveWordlist maps a language code such as "en_US", "zh_CN" or "ja" to a
// BIP-39 wordlist. An empty code means English.
func resolveWordlist(code string) (wordlist, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return wordlistTable[0], nil
	}
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return wordlist{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	_, idx, conf := wordlistMatcher.Match(tag)
	if conf == language.No {
		return wordlist{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	return wordlistTable[idx], nil
}
