package apperr

import "strings"

var messages = map[string]map[Kind]string{
	"en": {
		KindValidation:           "The request is invalid.",
		KindNotFound:             "The requested resource was not found.",
		KindLink:                 "This patient is not linked to your practice.",
		KindConflict:             "This time slot is already booked.",
		KindSubscriptionRequired: "An active subscription is required to schedule appointments.",
		KindPersistence:          "Something went wrong. Please try again.",
	},
	"pt-BR": {
		KindValidation:           "A requisição é inválida.",
		KindNotFound:             "O recurso solicitado não foi encontrado.",
		KindLink:                 "Este paciente não está vinculado ao seu consultório.",
		KindConflict:             "Este horário já está reservado.",
		KindSubscriptionRequired: "É necessária uma assinatura ativa para agendar consultas.",
		KindPersistence:          "Algo deu errado. Tente novamente.",
	},
}

// Message returns the user-facing text for kind. lang may be a raw Accept-Language value.
func Message(kind Kind, lang string) string {
	table := messages[matchLanguage(lang)]
	if msg, ok := table[kind]; ok {
		return msg
	}
	return messages["en"][KindPersistence]
}

func matchLanguage(raw string) string {
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		switch {
		case tag == "":
			continue
		case strings.HasPrefix(tag, "pt"):
			return "pt-BR"
		case strings.HasPrefix(tag, "en"):
			return "en"
		}
	}
	return "en"
}
