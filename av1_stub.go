//go:build noav1 || !(darwin || linux)

package av1enc

func newNativeCodec() (Codec, error) {
	return nil, ErrCodecNotAvailable
}
