package auth

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	goerrors "github.com/goliatone/go-errors"
)

const messageKeyPrefix = "auth.error."

var defaultMessages = map[language.Tag]map[ErrorCode]string{
	language.English: {
		CodeInvalidCredential:   "The email or password is incorrect.",
		CodeAccountDisabled:     "Your account has been disabled. Contact the school administration.",
		CodeTooManyRequests:     "Too many attempts. Wait a moment and try again.",
		CodeInvalidEmail:        "The email address is not valid.",
		CodeNetworkError:        "Could not reach the server. Check your connection.",
		CodePopupBlocked:        "The sign in window was blocked. Continuing with a redirect.",
		CodePopupClosed:         "The sign in window was closed before finishing.",
		CodeOperationNotAllowed: "This sign in method is not enabled.",
		CodeEmailAlreadyInUse:   "This email is already in use.",
		CodeWeakPassword:        "The password is too weak.",
		CodeEmailNotRegistered:  "This email is not registered. Ask the school to create your account.",
		CodeLinkConsumed:        "This sign in link was already used. You can close this tab.",
		CodeInvalidLink:         "The sign in link is invalid or has expired.",
		CodeValidation:          "Check the highlighted fields.",
		CodeUnknown:             "Something went wrong. Try again.",
	},
	language.Spanish: {
		CodeInvalidCredential:   "El correo o la contraseña son incorrectos.",
		CodeAccountDisabled:     "Tu cuenta ha sido desactivada. Contacta con la administración.",
		CodeTooManyRequests:     "Demasiados intentos. Espera un momento e inténtalo de nuevo.",
		CodeInvalidEmail:        "El correo electrónico no es válido.",
		CodeNetworkError:        "No se pudo conectar con el servidor. Revisa tu conexión.",
		CodePopupBlocked:        "La ventana de acceso fue bloqueada. Continuando con redirección.",
		CodePopupClosed:         "La ventana de acceso se cerró antes de terminar.",
		CodeOperationNotAllowed: "Este método de acceso no está habilitado.",
		CodeEmailAlreadyInUse:   "Este correo ya está en uso.",
		CodeWeakPassword:        "La contraseña es demasiado débil.",
		CodeEmailNotRegistered:  "Este correo no está registrado. Pide a la escuela que cree tu cuenta.",
		CodeLinkConsumed:        "Este enlace ya fue utilizado. Puedes cerrar esta pestaña.",
		CodeInvalidLink:         "El enlace de acceso no es válido o ha caducado.",
		CodeValidation:          "Revisa los campos marcados.",
		CodeUnknown:             "Algo salió mal. Inténtalo de nuevo.",
	},
}

// Messages renders user facing messages for domain error codes.
type Messages struct {
	catalog *catalog.Builder
	matcher language.Matcher
}

// NewMessages builds the message catalog with the built in translations.
func NewMessages() *Messages {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	tags := make([]language.Tag, 0, len(defaultMessages))
	tags = append(tags, language.English)
	for tag, msgs := range defaultMessages {
		if tag != language.English {
			tags = append(tags, tag)
		}
		for code, msg := range msgs {
			_ = b.SetString(tag, messageKeyPrefix+string(code), msg)
		}
	}
	return &Messages{catalog: b, matcher: language.NewMatcher(tags)}
}

// Set overrides or adds a translation.
func (m *Messages) Set(tag language.Tag, code ErrorCode, msg string) error {
	return m.catalog.SetString(tag, messageKeyPrefix+string(code), msg)
}

// Message returns the localized message for err. Unknown errors keep the
// raw provider message so the user sees something actionable.
func (m *Messages) Message(err error, accept ...string) string {
	if err == nil {
		return ""
	}
	code := CodeOf(err)
	if code == CodeUnknown {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && rich.Message != "" && rich.Message != ErrUnknown.Message {
			return rich.Message
		}
	}
	return m.For(code, accept...)
}

// For returns the localized message for a code.
func (m *Messages) For(code ErrorCode, accept ...string) string {
	tag := m.match(accept...)
	p := message.NewPrinter(tag, message.Catalog(m.catalog))
	return p.Sprintf(messageKeyPrefix + string(code))
}

func (m *Messages) match(accept ...string) language.Tag {
	if len(accept) == 0 {
		return language.English
	}
	tag, _ := language.MatchStrings(m.matcher, accept...)
	base, _ := tag.Base()
	for known := range defaultMessages {
		kb, _ := known.Base()
		if kb == base {
			return known
		}
	}
	return language.English
}
