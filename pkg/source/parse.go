package source

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrNoSourceFile = errors.New("no source file in compiler invocation")

var sourceExtensions = map[string]Language{
	".c":   LanguageC,
	".cc":  LanguageCPlusPlus,
	".cpp": LanguageCPlusPlus,
	".cxx": LanguageCPlusPlus,
	".c++": LanguageCPlusPlus,
	".C":   LanguageCPlusPlus,
	".m":   LanguageObjectiveC,
	".mm":  LanguageObjectiveCPlusPlus,
}

// flags whose value is the next argument and must not be taken as the input file
var flagsWithValue = map[string]bool{
	"-o":         true,
	"-I":         true,
	"-D":         true,
	"-U":         true,
	"-include":   true,
	"-isystem":   true,
	"-x":         true,
	"-MF":        true,
	"-MT":        true,
	"-MQ":        true,
	"-Xclang":    true,
	"-arch":      true,
	"-iquote":    true,
	"-idirafter": true,
}

// Parse builds a Source from a full compiler command line such as
// "g++ -std=c++11 -Iinclude -c src/a.cpp -o a.o". The returned Source has no
// FileID; callers assign one from a Files registry.
//
// Output and dependency-file flags are dropped because they are meaningless
// for indexing.
func Parse(commandLine []string, workingDirectory string) (Source, error) {
	if len(commandLine) == 0 {
		return Source{}, ErrNoSourceFile
	}

	src := Source{
		Compiler:         commandLine[0],
		WorkingDirectory: workingDirectory,
	}

	for i := 1; i < len(commandLine); i++ {
		arg := commandLine[i]
		switch {
		case arg == "-o" || arg == "-MF" || arg == "-MT" || arg == "-MQ":
			i++
			continue
		case arg == "-c" || arg == "-MD" || arg == "-MMD":
			continue
		case flagsWithValue[arg]:
			src.Arguments = append(src.Arguments, arg)
			if i+1 < len(commandLine) {
				i++
				src.Arguments = append(src.Arguments, commandLine[i])
			}
			continue
		case strings.HasPrefix(arg, "-"):
			if strings.HasPrefix(arg, "-std=c++1") || strings.HasPrefix(arg, "-std=c++2") || strings.HasPrefix(arg, "-std=gnu++1") {
				src.Language = LanguageCPlusPlus11
			}
			src.Arguments = append(src.Arguments, arg)
			continue
		}

		lang, ok := sourceExtensions[filepath.Ext(arg)]
		if !ok {
			src.Arguments = append(src.Arguments, arg)
			continue
		}
		if src.Path == "" {
			src.Path = arg
			if src.Language == LanguageNone || lang != LanguageCPlusPlus {
				src.Language = lang
			}
		}
	}

	if src.Path == "" {
		return Source{}, ErrNoSourceFile
	}
	if src.Language == LanguageNone {
		src.Language = languageFromCompiler(src.Compiler)
	}
	return src, nil
}

func languageFromCompiler(compiler string) Language {
	base := filepath.Base(compiler)
	switch {
	case strings.Contains(base, "++"):
		return LanguageCPlusPlus
	case strings.HasSuffix(base, "cc") || strings.HasSuffix(base, "clang"):
		return LanguageC
	default:
		return LanguageNone
	}
}
