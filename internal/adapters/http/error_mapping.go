package httpadapter

import (
	"net/http"
	"strings"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

type errorKind struct {
	kind   error
	status int
	code   string
}

// errorKinds is checked in order; the first matching kind wins.
var errorKinds = []errorKind{
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrDocumentNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrDimensionMismatch, http.StatusInternalServerError, "dimension_mismatch"},
	{domain.ErrQueryEmbedding, http.StatusServiceUnavailable, "query_embedding_failed"},
	{domain.ErrRerankUnavailable, http.StatusServiceUnavailable, "rerank_unavailable"},
	{domain.ErrTemporary, http.StatusServiceUnavailable, "temporarily_unavailable"},
	{domain.ErrEmbedding, http.StatusBadGateway, "embedding_failed"},
	{domain.ErrAnalysis, http.StatusBadGateway, "analysis_failed"},
	{domain.ErrExtraction, http.StatusUnprocessableEntity, "extraction_failed"},
}

func classifyError(err error) (int, string) {
	for _, k := range errorKinds {
		if domain.IsKind(err, k.kind) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func mapErrorToHTTPStatus(err error) int {
	status, _ := classifyError(err)
	return status
}

var messages = map[string]map[string]string{
	"en": {
		"invalid_input":           "The request is invalid: %s",
		"unauthorized":            "Missing or invalid API key.",
		"not_found":               "The document does not exist.",
		"dimension_mismatch":      "The embedding model does not match the index dimension. Check EMBEDDING_DIM.",
		"query_embedding_failed":  "The search query could not be embedded. Please retry later.",
		"rerank_unavailable":      "The reranker is unavailable.",
		"temporarily_unavailable": "The AI service is temporarily unavailable. Please retry later.",
		"embedding_failed":        "The embedding service returned an error.",
		"analysis_failed":         "The analysis model returned an error.",
		"extraction_failed":       "Text could not be extracted from the file.",
		"payload_too_large":       "The uploaded file is too large.",
		"rate_limited":            "Too many requests. Please retry later.",
		"overloaded":              "The server is busy. Please retry later.",
		"internal":                "Internal server error.",
	},
	"zh": {
		"invalid_input":           "请求参数无效：%s",
		"unauthorized":            "API Key 缺失或无效",
		"not_found":               "文档不存在",
		"dimension_mismatch":      "向量模型与索引维度不一致，请检查 EMBEDDING_DIM 配置",
		"query_embedding_failed":  "查询向量化失败，请稍后重试",
		"rerank_unavailable":      "重排序服务不可用",
		"temporarily_unavailable": "AI 服务暂时不可用，请稍后重试",
		"embedding_failed":        "向量服务返回错误",
		"analysis_failed":         "分析模型返回错误",
		"extraction_failed":       "无法从文件中提取文本",
		"payload_too_large":       "上传的文件过大",
		"rate_limited":            "请求频率过高，请稍后重试",
		"overloaded":              "服务繁忙，请稍后重试",
		"internal":                "服务器内部错误",
	},
}

// preferredLanguage picks the first supported language of an Accept-Language header.
func preferredLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		lang, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if _, ok := messages[lang]; ok {
			return lang
		}
	}
	return "en"
}

// translate renders the user-facing message of code. detail only fills invalid_input.
func translate(lang, code, detail string) string {
	table, ok := messages[lang]
	if !ok {
		table = messages["en"]
	}
	msg, ok := table[code]
	if !ok {
		msg = table["internal"]
	}
	if strings.Contains(msg, "%s") {
		return strings.Replace(msg, "%s", detail, 1)
	}
	return msg
}

// invalidInputDetail strips the operation prefix and kind text from a wrapped validation error.
func invalidInputDetail(err error) string {
	msg := err.Error()
	if _, rest, found := strings.Cut(msg, domain.ErrInvalidInput.Error()+": "); found {
		return rest
	}
	return msg
}
