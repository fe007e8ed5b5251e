package jsonrpc

// Classify maps an envelope onto exactly one Message variant.
//
//	error present                 -> *ErrorMessage
//	result present                -> *Response
//	method present, id present    -> *Request
//	method present, id absent     -> *Notification
//	id, method, result, error all absent -> Null
//	anything else                 -> *MalformedMessageError
func Classify(env Envelope) (Message, error) {
	if env.Error != nil {
		msg := &ErrorMessage{Error: *env.Error}
		if env.ID != nil {
			msg.ID = *env.ID
		}
		return msg, nil
	}

	if env.Result != nil {
		result := *env.Result
		resp := &Response{Result: &result}
		if env.ID != nil {
			resp.ID = *env.ID
		}
		return resp, nil
	}

	if env.Method != nil {
		var params Document
		if env.Params != nil {
			params = *env.Params
		}
		if env.ID == nil {
			return &Notification{Method: *env.Method, Params: params}, nil
		}
		return &Request{ID: *env.ID, Method: *env.Method, Params: params}, nil
	}

	if env.ID == nil {
		return Null{}, nil
	}

	return nil, malformed(env.Present(), "id without method, result or error", nil)
}

// Decode is DecodeEnvelope followed by Classify.
func Decode(line []byte) (Message, error) {
	env, err := DecodeEnvelope(line)
	if err != nil {
		return nil, err
	}
	return Classify(env)
}
