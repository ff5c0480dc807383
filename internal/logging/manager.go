package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Имена компонентов движка
const (
	ComponentFog     = "fog"
	ComponentAPI     = "api"
	ComponentStorage = "storage"
	ComponentDisplay = "display"
	ComponentBus     = "eventbus"
)

// LoggerManager хранит по одному логгеру на компонент
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает общий менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{loggers: make(map[string]*Logger)}
	})
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return l, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}

	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger for %s: %w", component, err)
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger как GetLogger, но при ошибке файла пишет только в консоль
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	return &Logger{
		component:       component,
		consoleLogger:   current().consoleLogger,
		minConsoleLevel: INFO,
		minFileLevel:    ERROR,
	}
}

// CloseAll закрывает файлы всех логгеров и забывает их
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, l := range lm.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// Components возвращает отсортированный список компонентов
func (lm *LoggerManager) Components() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]string, 0, len(lm.loggers))
	for c := range lm.loggers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SetLevelAll выставляет уровни всем уже созданным логгерам
func (lm *LoggerManager) SetLevelAll(consoleLevel, fileLevel LogLevel) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	for _, l := range lm.loggers {
		l.SetLevel(consoleLevel, fileLevel)
	}
}

// SetLogLevel выставляет уровни логгеру компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("logger for component %s not found", component)
	}
	l.SetLevel(consoleLevel, fileLevel)
	return nil
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetFogLogger() *Logger     { return GetComponentLogger(ComponentFog) }
func GetAPILogger() *Logger     { return GetComponentLogger(ComponentAPI) }
func GetStorageLogger() *Logger { return GetComponentLogger(ComponentStorage) }
func GetDisplayLogger() *Logger { return GetComponentLogger(ComponentDisplay) }
func GetBusLogger() *Logger     { return GetComponentLogger(ComponentBus) }
