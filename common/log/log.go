package log

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Vinubaba/kids-checkin/common/claims"

	"github.com/go-kit/kit/log"
)

const (
	LvlDebug = "DEBUG"
	LvlInfo  = "INFO"
	LvlWarn  = "WARNING"
	LvlErr   = "ERROR"
)

func NewLogger(component string) *Logger {
	return NewLoggerTo(os.Stderr, component)
}

func NewLoggerTo(w io.Writer, component string) *Logger {
	var kitlogger log.Logger
	kitlogger = log.NewJSONLogger(log.NewSyncWriter(w))
	kitlogger = log.With(kitlogger, "ts", log.DefaultTimestampUTC)
	kitlogger = log.With(kitlogger, "component", component)

	return &Logger{
		kitlogger,
	}
}

// NewNopLogger discards everything, for tests.
func NewNopLogger() *Logger {
	return &Logger{log.NewNopLogger()}
}

type Logger struct {
	log.Logger
}

func (l *Logger) Debug(ctx context.Context, message string, keyvals ...interface{}) {
	l.logWithLvl(ctx, LvlDebug, message, keyvals)
}

func (l *Logger) Info(ctx context.Context, message string, keyvals ...interface{}) {
	l.logWithLvl(ctx, LvlInfo, message, keyvals)
}

func (l *Logger) Warn(ctx context.Context, message string, keyvals ...interface{}) {
	l.logWithLvl(ctx, LvlWarn, message, keyvals)
}

func (l *Logger) Err(ctx context.Context, message string, keyvals ...interface{}) {
	l.logWithLvl(ctx, LvlErr, message, keyvals)
}

// Invariant reports a broken internal invariant. These are bugs, not user errors.
func (l *Logger) Invariant(ctx context.Context, invariant string, keyvals ...interface{}) {
	keyvals = append(keyvals, "invariant", invariant)
	l.logWithLvl(ctx, LvlErr, "internal invariant violated", keyvals)
}

// re-implement gorm logger
func (l *Logger) Print(v ...interface{}) {
	if len(v) > 1 {
		level := v[0]
		keyvals := []interface{}{}

		if level == "sql" && len(v) > 4 {
			if d, ok := v[2].(time.Duration); ok {
				keyvals = append(keyvals, "duration", fmt.Sprintf("%.2f", float64(d.Nanoseconds()/1e4)/100.0))
			}

			var sql string
			var formattedValues []string

			values, _ := v[4].([]interface{})
			for _, value := range values {
				formattedValues = append(formattedValues, formatSqlValue(value))
			}

			query, _ := v[3].(string)
			var formattedValuesLength = len(formattedValues)
			for index, value := range sqlRegexp.Split(query, -1) {
				sql += value
				if index < formattedValuesLength {
					sql += formattedValues[index]
				}
			}

			keyvals = append(keyvals, "query", sql)
		} else {
			keyvals = append(keyvals, v[2:]...)
		}
		l.logWithLvl(context.Background(), LvlDebug, "new database query", keyvals)
	}
}

func formatSqlValue(value interface{}) string {
	indirectValue := reflect.Indirect(reflect.ValueOf(value))
	if !indirectValue.IsValid() {
		return fmt.Sprintf("'%v'", value)
	}
	value = indirectValue.Interface()
	if t, ok := value.(time.Time); ok {
		return fmt.Sprintf("'%v'", t.Format(time.RFC3339))
	} else if b, ok := value.([]byte); ok {
		if str := string(b); isPrintable(str) {
			return fmt.Sprintf("'%v'", str)
		}
		return "'<binary>'"
	} else if r, ok := value.(driver.Valuer); ok {
		if value, err := r.Value(); err == nil && value != nil {
			return fmt.Sprintf("'%v'", value)
		}
		return "NULL"
	}
	return fmt.Sprintf("'%v'", value)
}

func (l *Logger) logWithLvl(ctx context.Context, lvl string, message string, keyvals []interface{}) {
	if ctx != nil && claims.Raw(ctx) != nil {
		keyvals = append(keyvals, "role", strings.Join(claims.RoleNames(ctx), "/"))
		if userId := claims.GetUserId(ctx); userId != "" {
			keyvals = append(keyvals, "userId", userId)
		}
	}
	keyvals = append(keyvals, "level", lvl, "msg", message)
	l.Log(keyvals...)
}

var (
	sqlRegexp = regexp.MustCompile(`(\$\d+)|\?`)
)

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func (l *Logger) RequestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		l.Info(req.Context(), "new http request", "method", req.Method, "uri", req.RequestURI)

		next.ServeHTTP(w, req)
	})
}
