package log

import "time"

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// F builds an arbitrary Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Str builds a string Field.
func Str(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int builds an int Field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 builds an int64 Field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Uint64 builds a uint64 Field.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

// Bool builds a bool Field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration builds a time.Duration Field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err builds a Field carrying an error under the conventional "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags a logger/entry with a component name.
func Component(name string) Field {
	return Field{Key: ComponentKey, Value: name}
}
