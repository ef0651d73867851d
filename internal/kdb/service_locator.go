package kdb

type ServiceLocator interface {
	GetFileHandler() FileHandler
	GetDatabaseWriter(connectionString string) DatabaseWriter
}

type DefaultServiceLocator struct {
	fileHandler *DefaultFileHandler
}

func (sl *DefaultServiceLocator) GetFileHandler() FileHandler {
	return sl.fileHandler
}

// GetDatabaseWriter returns a writer for connectionString; an empty string
// is a private in-memory database.
func (sl *DefaultServiceLocator) GetDatabaseWriter(connectionString string) DatabaseWriter {
	return NewDatabaseWriter(connectionString)
}

func NewServiceLocator() ServiceLocator {
	serviceLocator := new(DefaultServiceLocator)
	serviceLocator.fileHandler = new(DefaultFileHandler)
	return serviceLocator
}
