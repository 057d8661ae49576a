package frame

import "fmt"

// base45Alphabet is the 45-character alphabet used to expand frame bytes
// into the alphanumeric content a QR-style symbol carries natively.
const base45Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

var base45Decode [256]int8

func init() {
	for i := range base45Decode {
		base45Decode[i] = -1
	}
	for i, c := range base45Alphabet {
		base45Decode[c] = int8(i)
	}
}

// EncodeBase45 expands data two bytes at a time into three base-45
// characters (c + 45*d + 45*45*e = 256*b0 + b1); a trailing odd byte
// expands into two characters.
func EncodeBase45(data []byte) string {
	out := make([]byte, 0, (len(data)/2)*3+2)
	i := 0
	for ; i+1 < len(data); i += 2 {
		n := int(data[i])*256 + int(data[i+1])
		e := n / (45 * 45)
		n -= e * 45 * 45
		d := n / 45
		c := n % 45
		out = append(out, base45Alphabet[c], base45Alphabet[d], base45Alphabet[e])
	}
	if i < len(data) {
		n := int(data[i])
		d := n / 45
		c := n % 45
		out = append(out, base45Alphabet[c], base45Alphabet[d])
	}
	return string(out)
}

// DecodeBase45 is the inverse of EncodeBase45.
func DecodeBase45(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, fmt.Errorf("base45: invalid length %d", len(s))
	}

	out := make([]byte, 0, (len(s)/3)*2+1)
	i := 0
	for ; i+3 <= len(s); i += 3 {
		c, d, e, err := decode3(s[i], s[i+1], s[i+2])
		if err != nil {
			return nil, err
		}
		n := c + d*45 + e*45*45
		if n > 0xFFFF {
			return nil, fmt.Errorf("base45: triplet out of range: %d", n)
		}
		out = append(out, byte(n>>8), byte(n))
	}
	if rem := len(s) - i; rem == 2 {
		c, err := decodeChar(s[i])
		if err != nil {
			return nil, err
		}
		d, err := decodeChar(s[i+1])
		if err != nil {
			return nil, err
		}
		n := c + d*45
		if n > 0xFF {
			return nil, fmt.Errorf("base45: final pair out of range: %d", n)
		}
		out = append(out, byte(n))
	}
	return out, nil
}

func decodeChar(c byte) (int, error) {
	v := base45Decode[c]
	if v < 0 {
		return 0, fmt.Errorf("base45: invalid character %q", c)
	}
	return int(v), nil
}

func decode3(a, b, c byte) (int, int, int, error) {
	av, err := decodeChar(a)
	if err != nil {
		return 0, 0, 0, err
	}
	bv, err := decodeChar(b)
	if err != nil {
		return 0, 0, 0, err
	}
	cv, err := decodeChar(c)
	if err != nil {
		return 0, 0, 0, err
	}
	return av, bv, cv, nil
}
