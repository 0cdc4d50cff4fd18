package upload

import (
	"path"
	"strings"
)

// LanguageOther 是无法识别扩展名时的语言标签。
const LanguageOther = "other"

// languageByExt 把文件扩展名映射到语言标签。
var languageByExt = map[string]string{
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".java": "java",
	".cpp":  "cpp",
	".c":    "c",
	".h":    "c",
	".html": "html",
	".css":  "css",
	".json": "json",
	".md":   "markdown",
}

// imageMIMEByExt 是按原字节读取为 data URL 的图片扩展名白名单。
var imageMIMEByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

func ext(name string) string {
	return strings.ToLower(path.Ext(name))
}

// DetectLanguage 根据文件扩展名推断语言标签。
func DetectLanguage(name string) string {
	if lang, ok := languageByExt[ext(name)]; ok {
		return lang
	}
	return LanguageOther
}

// IsImage 报告文件是否在图片扩展名白名单中。
func IsImage(name string) bool {
	_, ok := imageMIMEByExt[ext(name)]
	return ok
}

// imageMIME 返回图片文件的 MIME 类型。
func imageMIME(name string) string {
	return imageMIMEByExt[ext(name)]
}
