package capture

import (
	"nlo/internal/credentials"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const nodeDataVolume = "node-data"

func SecretManifest(opts Options) *corev1.Secret {
	data := map[string]string{
		credentials.EnvAccessKeyID:     opts.Credentials.AccessKeyID,
		credentials.EnvSecretAccessKey: opts.Credentials.SecretAccessKey,
	}
	if opts.Credentials.SessionToken != "" {
		data[credentials.EnvSessionToken] = opts.Credentials.SessionToken
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: opts.SecretName()},
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}
}

func PodManifest(opts Options, pvc, script string) *corev1.Pod {
	env := []corev1.EnvVar{
		{Name: "SNAPSHOT_S3_URI", Value: opts.URI},
		{Name: "SNAPSHOT_S3_ENDPOINT_URL", Value: opts.Credentials.EndpointURL},
		{Name: "BOOTNODE_NAME", Value: opts.StatefulSet},
		secretEnv(opts.SecretName(), credentials.EnvAccessKeyID),
		secretEnv(opts.SecretName(), credentials.EnvSecretAccessKey),
	}
	if opts.Credentials.SessionToken != "" {
		env = append(env, secretEnv(opts.SecretName(), credentials.EnvSessionToken))
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: opts.PodName(),
			Labels: map[string]string{
				"app.kubernetes.io/name": podLabelName,
				"midnight.tech/bootnode": opts.StatefulSet,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            "snapshot",
				Image:           opts.Image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Command:         []string{"/bin/sh", "-c"},
				Args:            []string{script},
				Env:             env,
				VolumeMounts:    []corev1.VolumeMount{{Name: nodeDataVolume, MountPath: "/node"}},
			}},
			Volumes: []corev1.Volume{{
				Name: nodeDataVolume,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: pvc},
				},
			}},
		},
	}
}

func secretEnv(secret, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: key,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secret},
				Key:                  key,
			},
		},
	}
}
