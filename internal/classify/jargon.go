package classify

import (
	"regexp"
	"strings"
)

// jargonTerms はユーザー向け文言に含めてはならない用語。
// 大文字小文字を区別せず単語単位で照合する。
var jargonTerms = []string{
	"oauth", "oauth2", "token", "tokens", "pkce", "scope", "scopes",
	"grant", "nonce", "csrf", "redirect_uri", "client_id", "client secret",
	"propfind", "proppatch", "mkcalendar", "caldav", "carddav", "webdav",
	"http", "https", "status code", "api", "json", "xml", "tls", "ssl",
	"econnrefused", "etimedout", "dns", "callback", "endpoint",
	"400", "401", "403", "404", "408", "409", "429", "500", "502", "503", "504",
}

var jargonPatterns = compileJargon(jargonTerms)

func compileJargon(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		out = append(out, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`))
	}
	return out
}

// FindJargon はmsgに含まれる専門用語を登録順に返す。含まれない場合は空スライスを返す。
func FindJargon(msg string) []string {
	found := []string{}
	if strings.TrimSpace(msg) == "" {
		return found
	}
	for i, re := range jargonPatterns {
		if re.MatchString(msg) {
			found = append(found, jargonTerms[i])
		}
	}
	return found
}
