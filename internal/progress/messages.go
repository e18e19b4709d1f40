package progress

import "github.com/ytget/mediarelay/internal/model"

// Messages resolves stage and outcome texts for one language
type Messages struct {
	language string
	texts    map[model.Stage]string
}

// NewMessages returns the message table for language, falling back to English
func NewMessages(language string) *Messages {
	texts, ok := stageTexts[language]
	if !ok {
		language = "en"
		texts = stageTexts["en"]
	}
	return &Messages{language: language, texts: texts}
}

// Language returns the resolved language code
func (m *Messages) Language() string {
	return m.language
}

// Stage returns the status line shown while the job is in stage
func (m *Messages) Stage(stage model.Stage) string {
	if text, ok := m.texts[stage]; ok {
		return text
	}
	return stage.String()
}

// AvailableLanguages returns the supported languages with their display names
func AvailableLanguages() map[string]string {
	return map[string]string{
		"en": "English",
		"ru": "Русский",
		"pt": "Português",
	}
}

var stageTexts = map[string]map[model.Stage]string{
	"en": {
		model.StageQueued:             "Waiting in queue...",
		model.StageAcquiring:          "Downloading...",
		model.StageVerifying:          "Checking file...",
		model.StageTranscoding:        "Compressing to fit the size limit...",
		model.StageExtractingMetadata: "Reading video details...",
		model.StageDelivering:         "Uploading...",
		model.StageDone:               "Done",
		model.StageFailed:             "Failed",
		model.StageCancelled:          "Cancelled",
	},
	"ru": {
		model.StageQueued:             "Ожидание в очереди...",
		model.StageAcquiring:          "Загрузка...",
		model.StageVerifying:          "Проверка файла...",
		model.StageTranscoding:        "Сжатие до допустимого размера...",
		model.StageExtractingMetadata: "Чтение параметров видео...",
		model.StageDelivering:         "Отправка...",
		model.StageDone:               "Готово",
		model.StageFailed:             "Ошибка",
		model.StageCancelled:          "Отменено",
	},
	"pt": {
		model.StageQueued:             "Aguardando na fila...",
		model.StageAcquiring:          "Baixando...",
		model.StageVerifying:          "Verificando arquivo...",
		model.StageTranscoding:        "Comprimindo para caber no limite...",
		model.StageExtractingMetadata: "Lendo detalhes do vídeo...",
		model.StageDelivering:         "Enviando...",
		model.StageDone:               "Concluído",
		model.StageFailed:             "Falhou",
		model.StageCancelled:          "Cancelado",
	},
}
