package constants

import e "github.com/fansqz/debug-playground/error"

type LanguageType string

const (
	LanguageC    LanguageType = "c"
	LanguageJava LanguageType = "java"
	LanguageGo   LanguageType = "go"
	LanguageCpp  LanguageType = "cpp"
)

// MainFileName 根据编程语言获取该编程语言的Main文件名称，dap调试器启动时需要告诉adapter文件名
func MainFileName(language LanguageType) (string, error) {
	switch language {
	case LanguageC:
		return "main.c", nil
	case LanguageCpp:
		return "main.cpp", nil
	case LanguageJava:
		return "Main.java", nil
	case LanguageGo:
		return "main.go", nil
	default:
		return "", e.ErrLanguageNotSupported
	}
}
