package ir

// String returns the string stored at key.
func (obj IRObject) String(key string) (string, bool) {
	v, ok := obj[key].(IRString)
	return string(v), ok
}

// Int returns the integer stored at key.
func (obj IRObject) Int(key string) (int64, bool) {
	v, ok := obj[key].(IRInt)
	return int64(v), ok
}

// Bool returns the boolean stored at key.
func (obj IRObject) Bool(key string) (bool, bool) {
	v, ok := obj[key].(IRBool)
	return bool(v), ok
}

// Score returns the fixed-point score stored at key.
func (obj IRObject) Score(key string) (Score, bool) {
	v, ok := obj[key].(IRInt)
	return Score(v), ok
}

// Object returns the nested object stored at key.
func (obj IRObject) Object(key string) (IRObject, bool) {
	v, ok := obj[key].(IRObject)
	return v, ok
}

// Array returns the array stored at key.
func (obj IRObject) Array(key string) (IRArray, bool) {
	v, ok := obj[key].(IRArray)
	return v, ok
}

// Strings returns the string elements of the array stored at key.
// ok is false when the key is absent or any element is not a string.
func (obj IRObject) Strings(key string) ([]string, bool) {
	arr, ok := obj[key].(IRArray)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(IRString)
		if !ok {
			return nil, false
		}
		out = append(out, string(s))
	}
	return out, true
}

// Clone returns a deep copy of obj.
func (obj IRObject) Clone() IRObject {
	if obj == nil {
		return nil
	}
	out := make(IRObject, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v IRValue) IRValue {
	switch val := v.(type) {
	case IRObject:
		return val.Clone()
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// Strs builds an IRArray of strings.
func Strs(values ...string) IRArray {
	arr := make(IRArray, len(values))
	for i, v := range values {
		arr[i] = IRString(v)
	}
	return arr
}
