package apperr

import "errors"

// Базовые категории ошибок доменного слоя. Сервисы оборачивают их через
// fmt.Errorf("...: %w", ...), а HTTP-слой отображает категории в статус-коды
// в одном месте (handleServiceError).
var (
	ErrValidation    = errors.New("некорректные входные данные")
	ErrNotFound      = errors.New("объект не найден")
	ErrAccessDenied  = errors.New("доступ запрещен")
	ErrConfiguration = errors.New("ошибка конфигурации")
	ErrUpstream      = errors.New("ошибка внешнего сервиса")
)

// IsNotFound сообщает, относится ли ошибка к категории "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation сообщает, относится ли ошибка к категории валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
