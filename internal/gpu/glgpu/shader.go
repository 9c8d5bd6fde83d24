package glgpu

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
)

const glslVersion = "#version 410 core\n"

const vertexSource = `
layout(location = 0) in vec2 aPos;
layout(location = 1) in vec2 aUV;

uniform mat4 uProjection;

out vec2 vUV;

void main() {
    vUV = aUV;
    gl_Position = uProjection * vec4(aPos, 0.0, 1.0);
}
`

// FLOAT_TARGET selects the RG32F path: texels without validity are
// discarded so earlier draws show through.
const fragmentSource = `
in vec2 vUV;

uniform sampler2D uTexture;

out vec4 FragColor;

void main() {
    vec4 c = texture(uTexture, vUV);
#if FLOAT_TARGET
    if (c.g <= 0.0) {
        discard;
    }
    FragColor = vec4(c.r, 1.0, 0.0, 0.0);
#else
    FragColor = c;
#endif
}
`

// program is a linked draw program and its uniform locations.
type program struct {
	id         uint32
	projection int32
	texture    int32
}

// withDefines prefixes src with the version line and one #define per entry,
// sorted so the same set always yields the same source.
func withDefines(src string, defines map[string]int) string {
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(glslVersion)
	for _, k := range keys {
		fmt.Fprintf(&b, "#define %s %d\n", k, defines[k])
	}
	b.WriteString(src)
	return b.String()
}

func newProgram(defines map[string]int) (*program, error) {
	id, err := compileProgram(withDefines(vertexSource, defines), withDefines(fragmentSource, defines))
	if err != nil {
		return nil, err
	}
	return &program{
		id:         id,
		projection: uniform(id, "uProjection"),
		texture:    uniform(id, "uTexture"),
	}, nil
}

func compileProgram(vertexSrc, fragmentSrc string) (uint32, error) {
	vertShader, err := compileShader(vertexSrc, gl.VERTEX_SHADER, "vertex")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vertShader)

	fragShader, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER, "fragment")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fragShader)

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vertShader)
	gl.AttachShader(prog, fragShader)
	gl.LinkProgram(prog)

	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetProgramInfoLog(prog, logLen, nil, &log[0])
		gl.DeleteProgram(prog)
		return 0, fmt.Errorf("link: %s", strings.TrimRight(string(log), "\x00"))
	}
	return prog, nil
}

func compileShader(source string, shaderType uint32, name string) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csource, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csource, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%s shader: %s", name, strings.TrimRight(string(log), "\x00"))
	}
	return shader, nil
}

func uniform(prog uint32, name string) int32 {
	return gl.GetUniformLocation(prog, gl.Str(name+"\x00"))
}
