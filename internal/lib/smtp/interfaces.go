// Package smtp реализует транспорт для отправки почтовых уведомлений.
package smtp

import "io"

// Client описывает минимальный интерфейс SMTP клиента,
// необходимый сервису отправки уведомлений.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}
