package complexity

import "regexp"

// blockStyle describes how a language delimits function bodies.
type blockStyle int

const (
	blockBraces blockStyle = iota
	blockIndent
)

// languageRules is the heuristic scanning table for one language.
type languageRules struct {
	decisions    []*regexp.Regexp
	signatures   []*regexp.Regexp
	lineComments []string
	blockComment [2]string
	// singleQuoteStrings is false for languages where ' delimits char
	// literals or lifetimes rather than strings.
	singleQuoteStrings bool
	style              blockStyle
}

var (
	cLikeDecisions = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:if|for|while|case|catch)\b`),
		regexp.MustCompile(`&&|\|\|`),
		regexp.MustCompile(`\s\?\s`),
	}

	// notFunctionNames rejects control statements that look like calls.
	notFunctionNames = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true, "catch": true,
		"return": true, "else": true, "do": true, "try": true, "function": true,
		"new": true, "throw": true, "sizeof": true, "typeof": true, "await": true,
		"foreach": true, "using": true, "lock": true, "synchronized": true,
	}
)

var heuristicRules = map[Language]*languageRules{
	LangJavaScript: jsRules(),
	LangTypeScript: jsRules(),
	LangTSX:        jsRules(),
	LangPython: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|elif|for|while|except|with|and|or)\b`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:async\s+)?def\s+(?P<name>\w+)\s*\(`),
		},
		lineComments:       []string{"#"},
		singleQuoteStrings: true,
		style:              blockIndent,
	},
	LangGo: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|for|case)\b`),
			regexp.MustCompile(`&&|\|\|`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?(?P<name>\w+)\s*(?:\[[^\]]*\])?\(`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	},
	LangJava: {
		decisions: cLikeDecisions,
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:@\w+\s+)*(?:(?:public|private|protected|static|final|abstract|synchronized|native|default)\s+)+(?:<[^>]*>\s*)?[\w<>\[\],.?]+\s+(?P<name>\w+)\s*\(`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	},
	LangKotlin: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|for|while|catch)\b`),
			regexp.MustCompile(`&&|\|\||\?:`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:(?:public|private|protected|internal|override|open|suspend|inline|abstract|operator|infix|tailrec)\s+)*fun\s+(?:<[^>]*>\s*)?(?:[\w.]+\.)?(?P<name>\w+)\s*\(`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	},
	LangCSharp: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|for|foreach|while|case|catch)\b`),
			regexp.MustCompile(`&&|\|\||\?\?`),
			regexp.MustCompile(`\s\?\s`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:\[[^\]]*\]\s*)*(?:(?:public|private|protected|internal|static|virtual|override|abstract|async|sealed|extern|unsafe|partial|new)\s+)+[\w<>\[\],.?]+\s+(?P<name>\w+)\s*(?:<[^>]*>)?\s*\(`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	},
	LangC:   cRules(),
	LangCPP: cRules(),
	LangRust: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|for|while|loop)\b`),
			regexp.MustCompile(`=>`),
			regexp.MustCompile(`&&|\|\|`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:const\s+)?(?:unsafe\s+)?(?:extern\s+"[^"]*"\s+)?fn\s+(?P<name>\w+)`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	},
	LangRuby: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|elsif|unless|while|until|for|when|rescue|and|or)\b`),
			regexp.MustCompile(`&&|\|\|`),
			regexp.MustCompile(`\s\?\s`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*def\s+(?:self\.)?(?P<name>[\w?!=]+)`),
		},
		lineComments:       []string{"#"},
		singleQuoteStrings: true,
		style:              blockIndent,
	},
	LangPHP: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|elseif|for|foreach|while|case|catch)\b`),
			regexp.MustCompile(`&&|\|\||\band\b|\bor\b|\?\?`),
			regexp.MustCompile(`\s\?\s`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract)\s+)*function\s+&?(?P<name>\w+)\s*\(`),
		},
		lineComments:       []string{"//", "#"},
		blockComment:       [2]string{"/*", "*/"},
		singleQuoteStrings: true,
		style:              blockBraces,
	},
	LangSwift: {
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|guard|for|while|case|catch)\b`),
			regexp.MustCompile(`&&|\|\||\?\?`),
			regexp.MustCompile(`\s\?\s`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:(?:public|private|fileprivate|internal|open|static|class|override|mutating|@\w+)\s+)*func\s+(?P<name>\w+)`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	},
}

func jsRules() *languageRules {
	return &languageRules{
		decisions: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:if|for|while|case|catch)\b`),
			regexp.MustCompile(`&&|\|\||\?\?`),
			regexp.MustCompile(`\s\?\s`),
		},
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(?P<name>[A-Za-z_$][\w$]*)?\s*\(`),
			regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(?P<name>[A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s*)?(?:function\b|\([^)]*\)\s*(?::[^=]+)?=>|[A-Za-z_$][\w$]*\s*=>)`),
			regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|async|get|set|readonly|override)\s+)*(?P<name>[A-Za-z_$][\w$]*)\s*\([^)]*\)\s*(?::\s*[^{]+)?\{`),
		},
		lineComments:       []string{"//"},
		blockComment:       [2]string{"/*", "*/"},
		singleQuoteStrings: true,
		style:              blockBraces,
	}
}

func cRules() *languageRules {
	return &languageRules{
		decisions: cLikeDecisions,
		signatures: []*regexp.Regexp{
			regexp.MustCompile(`^(?:[\w\*&:<>,~]+\s+)+[\*&]*(?P<name>[A-Za-z_~][\w:~]*)\s*\([^;]*$`),
		},
		lineComments: []string{"//"},
		blockComment: [2]string{"/*", "*/"},
		style:        blockBraces,
	}
}
